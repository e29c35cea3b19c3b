package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Cultivation Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Cultivation Platform API",
			"description": "Cultivation cycle tracking with feature derivation and harvest prediction backed by PostgreSQL",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Cultivation Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/plantings": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Record a planting",
					"description": "Creates a cultivation cycle and runs the feature derivation and prediction pipeline in one transaction",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"bed_id", "plant_date"},
									"properties": map[string]interface{}{
										"bed_id":            map[string]string{"type": "integer"},
										"plant_date":        map[string]string{"type": "string", "format": "date"},
										"sow_date":          map[string]interface{}{"type": "string", "format": "date", "nullable": true},
										"sales_adjust_days": map[string]interface{}{"type": "integer", "default": 0},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{
							"description": "Cycle created with prediction",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"cycle_id": map[string]string{"type": "integer"},
											"outcome":  map[string]string{"type": "string"},
											"prediction": map[string]interface{}{
												"type":     "object",
												"nullable": true,
												"properties": map[string]interface{}{
													"id":            map[string]string{"type": "integer"},
													"cycle_id":      map[string]string{"type": "integer"},
													"model_id":      map[string]string{"type": "string"},
													"pred_days":     map[string]string{"type": "number"},
													"pred_total_kg": map[string]string{"type": "number"},
												},
											},
										},
									},
								},
							},
						},
						"202": map[string]interface{}{
							"description": "Cycle created but prediction deferred; an open data_missing alert was raised",
						},
						"502": map[string]interface{}{
							"description": "Pipeline failed; nothing was persisted",
						},
					},
				},
			},
			"/api/harvests": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Record a harvest",
					"description": "Appends a harvesting event to an existing cycle",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"cycle_id", "harvest_date", "harvest_kg"},
									"properties": map[string]interface{}{
										"cycle_id":      map[string]string{"type": "integer"},
										"harvest_date":  map[string]string{"type": "string", "format": "date"},
										"harvest_kg":    map[string]string{"type": "number"},
										"loss_type_id":  map[string]interface{}{"type": "integer", "nullable": true},
										"harvest_ratio": map[string]interface{}{"type": "number", "nullable": true},
										"user_id":       map[string]interface{}{"type": "integer", "nullable": true},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Harvest recorded"},
					},
				},
			},
			"/api/beds": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List active beds",
					"description": "Retrieve all active cultivation beds ordered by name",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "array",
										"items": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"id":         map[string]string{"type": "integer"},
												"name":       map[string]string{"type": "string"},
												"group_type": map[string]string{"type": "string"},
												"active":     map[string]string{"type": "boolean"},
											},
										},
									},
								},
							},
						},
					},
				},
			},
			"/api/beds/{id}/history": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Bed timeline",
					"description": "Planting and harvest events for one bed in date order",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Successful response",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "array",
										"items": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"date":   map[string]string{"type": "string", "format": "date"},
												"action": map[string]string{"type": "string"},
											},
										},
									},
								},
							},
						},
					},
				},
			},
			"/api/cycles/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get a cultivation cycle",
					"description": "Retrieve one cycle by ID",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Successful response"},
						"404": map[string]interface{}{"description": "Cycle not found"},
					},
				},
			},
			"/api/cycles/{id}/prediction": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Latest prediction for a cycle",
					"description": "Retrieve the most recent prediction recorded for a cycle",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Successful response"},
						"404": map[string]interface{}{"description": "No prediction recorded"},
					},
				},
			},
			"/api/cycles/{id}/features/rebuild": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Rebuild the cached feature snapshot",
					"description": "Re-derives the feature vector for a cycle and overwrites the snapshot for the resolved as-of date",
					"parameters": []map[string]interface{}{
						{
							"name":        "id",
							"in":          "path",
							"required":    true,
							"schema":      map[string]string{"type": "integer"},
						},
						{
							"name":        "asof",
							"in":          "query",
							"description": "Override the as-of anchor date (YYYY-MM-DD)",
							"required":    false,
							"schema":      map[string]string{"type": "string", "format": "date"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Snapshot rebuilt"},
						"404": map[string]interface{}{"description": "Cycle not found"},
						"409": map[string]interface{}{"description": "Weather data still unavailable"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API is running",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "API is healthy",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"status": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
