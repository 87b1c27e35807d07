// Package openapi serves an OpenAPI 3.0 document built from the live Echo
// route table, annotated with the operations and schemas in schemas.go.
package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation annotates one method and path.
type Operation struct {
	Summary     string
	Tag         string
	RequestBody string // schema name; multipart when it ends in "Form"
	Responses   map[int]string
	Query       []Param
}

// Param is a documented query parameter.
type Param struct {
	Name        string
	Type        string
	Description string
}

// Generator builds the document on each request, so routes registered after
// it are still described.
type Generator struct {
	title   string
	version string
	routes  func() []*echo.Route
	ops     map[string]Operation
	schemas map[string]map[string]interface{}
}

// NewGenerator returns a Generator over routes, typically e.Routes, seeded
// with the NeuroScribe operations and schemas.
func NewGenerator(title, version string, routes func() []*echo.Route) *Generator {
	g := &Generator{
		title:   title,
		version: version,
		routes:  routes,
		ops:     make(map[string]Operation),
		schemas: make(map[string]map[string]interface{}),
	}
	for k, op := range defaultOperations {
		g.ops[k] = op
	}
	for name, s := range defaultSchemas {
		g.schemas[name] = s
	}
	return g
}

// Describe annotates method and path, where path uses Echo syntax
// ("/patients/:id").
func (g *Generator) Describe(method, path string, op Operation) {
	g.ops[method+" "+path] = op
}

// AddSchema registers a component schema.
func (g *Generator) AddSchema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

// GenerateSpec produces the OpenAPI document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if !documented(r) {
			continue
		}
		p := openAPIPath(r.Path)
		item, _ := paths[p].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[p] = item
		}
		item[strings.ToLower(r.Method)] = g.operation(r)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"sessionCookie": map[string]interface{}{"type": "apiKey", "in": "cookie", "name": "neuroscribe_session"},
				"bearer":        map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
}

func (g *Generator) operation(r *echo.Route) map[string]interface{} {
	op, ok := g.ops[r.Method+" "+r.Path]
	if !ok {
		op = Operation{Summary: r.Method + " " + r.Path, Responses: map[int]string{http.StatusOK: ""}}
	}

	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(r.Method, r.Path),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}

	var params []map[string]interface{}
	for _, name := range pathParams(r.Path) {
		params = append(params, map[string]interface{}{
			"name": name, "in": "path", "required": true,
			"schema": map[string]string{"type": "string"},
		})
	}
	for _, q := range op.Query {
		params = append(params, map[string]interface{}{
			"name": q.Name, "in": "query", "description": q.Description,
			"schema": map[string]string{"type": q.Type},
		})
	}
	if len(params) > 0 {
		out["parameters"] = params
	}

	if op.RequestBody != "" {
		contentType := echo.MIMEApplicationJSON
		if strings.HasSuffix(op.RequestBody, "Form") {
			contentType = echo.MIMEMultipartForm
		}
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				contentType: map[string]interface{}{"schema": ref(op.RequestBody)},
			},
		}
	}

	responses := make(map[string]interface{})
	for code, schema := range op.Responses {
		resp := map[string]interface{}{"description": http.StatusText(code)}
		if schema != "" {
			resp["content"] = map[string]interface{}{
				echo.MIMEApplicationJSON: map[string]interface{}{"schema": ref(schema)},
			}
		}
		responses[strconv.Itoa(code)] = resp
	}
	out["responses"] = responses
	return out
}

// documented drops Echo's internal not-found routes and wildcards.
func documented(r *echo.Route) bool {
	return r.Method != echo.RouteNotFound && !strings.Contains(r.Path, "*")
}

func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func pathParams(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if strings.HasPrefix(s, ":") {
			out = append(out, s[1:])
		}
	}
	return out
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimPrefix(s, ":")
		if s == "" {
			continue
		}
		b.WriteString(strings.ToUpper(s[:1]) + s[1:])
	}
	return b.String()
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>NeuroScribe API</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "openapi.json", dom_id: '#swagger-ui', deepLinking: true });
  </script>
</body>
</html>`

// RegisterRoutes serves /openapi.json and a Swagger UI page at /docs.
func (g *Generator) RegisterRoutes(api *echo.Group) {
	api.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	api.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
