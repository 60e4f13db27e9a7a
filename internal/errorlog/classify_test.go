package errorlog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"skillkeeper/internal/types"
)

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		name    string
		errName string
		message string
		want    types.Classification
	}{
		{"syntax by name", "SyntaxError", "missing semicolon", types.ClassSyntax},
		{"syntax by message", "Error", "Unexpected token '}'", types.ClassSyntax},
		{"network refused", "Error", "connect ECONNREFUSED 127.0.0.1", types.ClassNetwork},
		{"network dns", "Error", "getaddrinfo ENOTFOUND api.example.com", types.ClassNetwork},
		{"network fetch", "Error", "fetch failed", types.ClassNetwork},
		{"timeout", "Error", "request timeout after 30s", types.ClassTimeout},
		{"deadline", "Error", "context deadline exceeded", types.ClassTimeout},
		{"permission 401", "Error", "HTTP 401 from upstream", types.ClassPermission},
		{"permission word", "Error", "Unauthorized access", types.ClassPermission},
		{"api 429", "Error", "HTTP 429 too many requests", types.ClassAPI},
		{"api rate limit", "Error", "rate limit exceeded", types.ClassAPI},
		{"logic type error", "TypeError", "Cannot read properties of undefined", types.ClassLogic},
		{"logic reference", "ReferenceError", "x is not defined", types.ClassLogic},
		{"dependency", "Error", "Cannot find module 'left-pad'", types.ClassDependency},
		{"validation", "Error", "field amount is required", types.ClassValidation},
		{"unknown", "Error", "something odd happened", types.ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.errName, tt.message))
		})
	}
}

// The logic tier must be checked before dependency: a TypeError whose message
// says "is not a function" is a logic error, not a dependency error.
func TestClassifyPrecedenceLogicBeforeDependency(t *testing.T) {
	assert.Equal(t, types.ClassLogic, Classify("TypeError", "foo.bar is not a function"))
	// Without the TypeError name, the dependency tier applies.
	assert.Equal(t, types.ClassDependency, Classify("Error", "foo.bar is not a function"))
}

func TestInferSeverity(t *testing.T) {
	// Dangerous skill names are critical regardless of classification.
	assert.Equal(t, types.SeverityCritical, InferSeverity("deploy-service", types.ClassValidation))
	assert.Equal(t, types.SeverityCritical, InferSeverity("token-transfer", types.ClassUnknown))

	assert.Equal(t, types.SeverityHigh, InferSeverity("price-check", types.ClassNetwork))
	assert.Equal(t, types.SeverityHigh, InferSeverity("price-check", types.ClassAPI))
	assert.Equal(t, types.SeverityHigh, InferSeverity("price-check", types.ClassPermission))
	assert.Equal(t, types.SeverityMedium, InferSeverity("price-check", types.ClassLogic))
	assert.Equal(t, types.SeverityMedium, InferSeverity("price-check", types.ClassValidation))
	assert.Equal(t, types.SeverityLow, InferSeverity("price-check", types.ClassUnknown))
}
