package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Clinic Lab API",
        "description": "Diagnostic test request workflow, billing-gated report access and patient billing.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "TestRequests", "description": "Diagnostic test request lifecycle"},
        {"name": "Reports", "description": "Billing-gated report access"},
        {"name": "Billing", "description": "Patient ledger and reassignment fees"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/api/v1/system/metrics": {
            "get": {
                "summary": "Workflow metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden"}
                }
            }
        },
        "/test-requests": {
            "get": {
                "tags": ["TestRequests"],
                "summary": "List test requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "patientId", "in": "query", "type": "string"},
                    {"name": "doctorId", "in": "query", "type": "string"},
                    {"name": "centerId", "in": "query", "type": "string"},
                    {"name": "urgency", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["TestRequests"],
                "summary": "Order a new diagnostic test",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTestRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/{id}": {
            "get": {
                "tags": ["TestRequests"],
                "summary": "Get test request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/{id}/review": {
            "post": {
                "tags": ["TestRequests"],
                "summary": "Apply the superadmin review decision",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SuperadminReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/{id}/schedule-collection": {
            "post": {
                "tags": ["TestRequests"],
                "summary": "Book a sample collection visit",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScheduleCollectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/{id}/collection-status": {
            "put": {
                "tags": ["TestRequests"],
                "summary": "Record a sample collection attempt",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateCollectionStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/{id}/send-report": {
            "put": {
                "tags": ["TestRequests"],
                "summary": "Deliver a generated report",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SendReportRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Report locked or partial payment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/report-status/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Check report availability",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/test-requests/download-report/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download the rendered report",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF content"},
                    "403": {"description": "Report locked or partial payment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reassigned-patients/billing-status/{patientId}/{doctorId}": {
            "get": {
                "tags": ["Billing"],
                "summary": "Resolve billing status for a reassigned patient",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"},
                    {"name": "doctorId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reassigned-patients/consultation-fee/{patientId}/{doctorId}": {
            "post": {
                "tags": ["Billing"],
                "summary": "Charge a consultation fee",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"},
                    {"name": "doctorId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConsultationFeeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate fee", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patients/{patientId}/billing": {
            "get": {
                "tags": ["Billing"],
                "summary": "List patient billing records",
                "parameters": [
                    {"name": "patientId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateTestRequestRequest": {
            "type": "object",
            "properties": {
                "patientId": {"type": "string"},
                "doctorId": {"type": "string"},
                "centerId": {"type": "string"},
                "testType": {"type": "string"},
                "urgency": {"type": "string"}
            },
            "required": ["patientId", "doctorId", "centerId", "testType"]
        },
        "SuperadminReviewRequest": {
            "type": "object",
            "properties": {
                "decision": {"type": "string"},
                "notes": {"type": "string"},
                "additionalTests": {"type": "array", "items": {"type": "string"}},
                "patientInstructions": {"type": "string"},
                "changesRequired": {"type": "string"}
            },
            "required": ["decision"]
        },
        "ScheduleCollectionRequest": {
            "type": "object",
            "properties": {
                "sampleCollectorId": {"type": "string"},
                "sampleCollectorName": {"type": "string"},
                "sampleCollectionScheduledDate": {"type": "string"},
                "sampleCollectionNotes": {"type": "string"}
            },
            "required": ["sampleCollectorId", "sampleCollectionScheduledDate"]
        },
        "UpdateCollectionStatusRequest": {
            "type": "object",
            "properties": {
                "sampleCollectionStatus": {"type": "string"},
                "sampleCollectionActualDate": {"type": "string"},
                "sampleCollectionNotes": {"type": "string"}
            },
            "required": ["sampleCollectionStatus"]
        },
        "SendReportRequest": {
            "type": "object",
            "properties": {
                "sendMethod": {"type": "string"},
                "sentTo": {"type": "string"},
                "emailSubject": {"type": "string"},
                "emailMessage": {"type": "string"},
                "notificationMessage": {"type": "string"}
            },
            "required": ["sendMethod", "sentTo"]
        },
        "ConsultationFeeRequest": {
            "type": "object",
            "properties": {
                "amount": {"type": "number"},
                "paymentMethod": {"type": "string"},
                "notes": {"type": "string"}
            },
            "required": ["amount", "paymentMethod"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
