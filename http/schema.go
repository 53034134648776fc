package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402chat/client"
)

// paymentRequestBody is the schema of a 402 challenge, without braces
const paymentRequestBody = `
	"type": "object",
	"required": ["x402Version", "accepts"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"accepts": {"type": "array", "items": {"$ref": "#/definitions/requirement"}},
		"error": {"type": ["string", "null"]}
	}`

// Shared definitions for the x402 wire objects
const definitions = `
"definitions": {
	"requirement": {
		"type": "object",
		"required": ["scheme", "network", "maxAmountRequired", "payTo", "maxTimeoutSeconds", "asset"],
		"properties": {
			"scheme": {"type": "string", "minLength": 1},
			"network": {"type": "string", "minLength": 1},
			"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
			"resource": {"type": "string"},
			"description": {"type": "string"},
			"mimeType": {"type": "string"},
			"payTo": {"type": "string", "minLength": 1},
			"maxTimeoutSeconds": {"type": "integer", "minimum": 0},
			"asset": {"type": "string", "minLength": 1},
			"extra": {"type": ["object", "null"]}
		}
	},
	"paymentRequest": {`+paymentRequestBody+`},
	"authorization": {
		"type": "object",
		"required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
		"properties": {
			"from": {"type": "string"},
			"to": {"type": "string"},
			"value": {"type": "string"},
			"validAfter": {"type": "string"},
			"validBefore": {"type": "string"},
			"nonce": {"type": "string"}
		}
	}
}`

var (
	paymentRequestSchema = mustSchema("payment request", `{
		`+paymentRequestBody+`,
		`+definitions+`
	}`)

	chatResponseSchema = mustSchema("chat response", `{
		"type": "object",
		"properties": {
			"reply": {"type": "string"},
			"payment_request": {"$ref": "#/definitions/paymentRequest"}
		},
		"anyOf": [
			{"required": ["reply"]},
			{"required": ["payment_request"]}
		],
		`+definitions+`
	}`)

	infoResponseSchema = mustSchema("info response", `{
		"type": "object",
		"properties": {
			"base_url": {"type": ["string", "null"]},
			"model_name": {"type": ["string", "null"]},
			"api_key": {"type": ["string", "null"]}
		}
	}`)

	paymentHeaderSchema = mustSchema("payment header", `{
		"type": "object",
		"required": ["x402Version", "scheme", "network", "payload"],
		"properties": {
			"x402Version": {"type": "integer", "minimum": 1},
			"scheme": {"type": "string"},
			"network": {"type": "string"},
			"payload": {
				"type": "object",
				"required": ["signature", "authorization"],
				"properties": {
					"signature": {"type": ["string", "null"]},
					"authorization": {"$ref": "#/definitions/authorization"}
				}
			}
		},
		`+definitions+`
	}`)
)

// bodySchema is a compiled JSON schema for one boundary object
type bodySchema struct {
	name   string
	schema *gojsonschema.Schema
}

func mustSchema(name, source string) *bodySchema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("invalid %s schema: %v", name, err))
	}
	return &bodySchema{name: name, schema: schema}
}

// validate checks body against the schema, failing with a decode error
func (s *bodySchema) validate(body []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return x402.WrapPaymentError(x402.ErrCodeDecodeError, fmt.Sprintf("invalid %s: not valid JSON", s.name), err)
	}

	if result.Valid() {
		return nil
	}

	// Collect errors
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return x402.NewPaymentError(
		x402.ErrCodeDecodeError,
		fmt.Sprintf("invalid %s: %s", s.name, strings.Join(errs, "; ")),
		map[string]interface{}{"errors": errs},
	)
}
