package openapi

import "net/http"

type schema = map[string]interface{}

func str(desc string) schema     { return schema{"type": "string", "description": desc} }
func num(desc string) schema     { return schema{"type": "number", "description": desc} }
func integer(desc string) schema { return schema{"type": "integer", "description": desc} }
func array(item string) schema   { return schema{"type": "array", "items": ref(item)} }

func nullable(s schema) schema {
	s["nullable"] = true
	return s
}

var defaultSchemas = map[string]schema{
	"ClinicalData": {
		"type":     "object",
		"required": []string{"age", "sex", "mmse", "cdr", "etiv", "nwbv", "asf"},
		"properties": schema{
			"age":  integer("Age in years"),
			"sex":  schema{"type": "string", "enum": []string{"Male", "Female"}},
			"mmse": integer("Mini-Mental State Examination score, 0 to 30"),
			"cdr":  num("Clinical Dementia Rating"),
			"etiv": num("Estimated total intracranial volume"),
			"nwbv": num("Normalized whole brain volume"),
			"asf":  num("Atlas scaling factor"),
		},
	},
	"ImagingFile": {
		"type": "object",
		"properties": schema{
			"blob_id":      str("Blob store id"),
			"file_name":    str("Original file name"),
			"content_type": str("MIME type"),
			"size":         integer("Size in bytes"),
		},
	},
	"PatientRecord": {
		"type": "object",
		"properties": schema{
			"id":            schema{"type": "string", "format": "uuid"},
			"name":          str("Patient name"),
			"clinical_data": ref("ClinicalData"),
			"imaging_file":  ref("ImagingFile"),
			"status":        schema{"type": "string", "enum": []string{"Processing", "Complete", "Error"}},
			"submitted_at":  schema{"type": "string", "format": "date-time"},
			"prediction":    nullable(str("Classification label, null while processing")),
			"summary":       nullable(str("Generated clinical summary")),
		},
	},
	"PatientForm": {
		"type":     "object",
		"required": []string{"name", "age", "sex", "mmse", "cdr", "etiv", "nwbv", "asf", "mri_file"},
		"properties": schema{
			"name":     str("Patient name"),
			"age":      integer("Age in years"),
			"sex":      schema{"type": "string", "enum": []string{"Male", "Female"}},
			"mmse":     integer("MMSE score"),
			"cdr":      num("CDR"),
			"etiv":     num("eTIV"),
			"nwbv":     num("nWBV"),
			"asf":      num("ASF"),
			"mri_file": schema{"type": "string", "format": "binary"},
		},
	},
	"PatientPage": {
		"type": "object",
		"properties": schema{
			"data":     array("PatientRecord"),
			"total":    integer("Matching records"),
			"limit":    integer("Page size"),
			"offset":   integer("Page offset"),
			"has_more": schema{"type": "boolean"},
		},
	},
	"ValidationError": {
		"type": "object",
		"properties": schema{
			"message": str("Summary"),
			"errors": schema{"type": "array", "items": schema{
				"type":       "object",
				"properties": schema{"field": str("Form field"), "message": str("Problem")},
			}},
		},
	},
	"Error": {
		"type":       "object",
		"properties": schema{"message": str("Error message")},
	},
	"LoginRequest": {
		"type":       "object",
		"required":   []string{"identifier"},
		"properties": schema{"identifier": str("Clinician email or id")},
	},
	"Session": {
		"type": "object",
		"properties": schema{
			"user":       str("Clinician identifier"),
			"expires_at": schema{"type": "string", "format": "date-time"},
		},
	},
	"WebhookRequest": {
		"type": "object",
		"properties": schema{
			"url":    str("Destination URL"),
			"secret": str("HMAC secret, generated when empty"),
			"events": schema{"type": "array", "items": str("Event type or pattern such as patient.*")},
		},
	},
	"WebhookEndpoint": {
		"type": "object",
		"properties": schema{
			"id":         str("Endpoint id"),
			"url":        str("Destination URL"),
			"secret":     str("Only returned on registration"),
			"events":     schema{"type": "array", "items": schema{"type": "string"}},
			"status":     schema{"type": "string", "enum": []string{"active", "paused"}},
			"created_by": str("Registering clinician"),
			"created_at": schema{"type": "string", "format": "date-time"},
		},
	},
}

var defaultOperations = map[string]Operation{
	"POST /api/v1/session": {
		Summary: "Log in", Tag: "session", RequestBody: "LoginRequest",
		Responses: map[int]string{http.StatusOK: "Session", http.StatusBadRequest: "Error"},
	},
	"GET /api/v1/session": {
		Summary: "Current clinician", Tag: "session",
		Responses: map[int]string{http.StatusOK: "Session", http.StatusUnauthorized: "Error"},
	},
	"DELETE /api/v1/session": {
		Summary: "Log out", Tag: "session",
		Responses: map[int]string{http.StatusNoContent: ""},
	},
	"GET /api/v1/patients": {
		Summary: "List patient records, newest first", Tag: "patients",
		Query: []Param{
			{Name: "q", Type: "string", Description: "Case-insensitive name search"},
			{Name: "status", Type: "string", Description: "Processing, Complete, Error or all"},
			{Name: "limit", Type: "integer", Description: "Page size"},
			{Name: "offset", Type: "integer", Description: "Page offset"},
		},
		Responses: map[int]string{http.StatusOK: "PatientPage", http.StatusBadRequest: "Error"},
	},
	"POST /api/v1/patients": {
		Summary: "Submit a patient for classification", Tag: "patients", RequestBody: "PatientForm",
		Responses: map[int]string{
			http.StatusCreated:               "PatientRecord",
			http.StatusBadRequest:            "ValidationError",
			http.StatusRequestEntityTooLarge: "Error",
			http.StatusUnsupportedMediaType:  "Error",
		},
	},
	"GET /api/v1/patients/:id": {
		Summary: "Get one patient record", Tag: "patients",
		Responses: map[int]string{http.StatusOK: "PatientRecord", http.StatusNotFound: "Error"},
	},
	"GET /api/v1/patients/:id/imaging": {
		Summary: "Download the uploaded scan", Tag: "patients",
		Responses: map[int]string{http.StatusOK: "", http.StatusNotFound: "Error"},
	},
	"POST /api/v1/webhooks": {
		Summary: "Register a webhook endpoint", Tag: "webhooks", RequestBody: "WebhookRequest",
		Responses: map[int]string{http.StatusCreated: "WebhookEndpoint", http.StatusBadRequest: "Error"},
	},
	"GET /api/v1/webhooks/:id": {
		Summary: "Get a webhook endpoint", Tag: "webhooks",
		Responses: map[int]string{http.StatusOK: "WebhookEndpoint", http.StatusNotFound: "Error"},
	},
}
