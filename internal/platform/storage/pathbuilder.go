package storage

import (
	"fmt"
	"strings"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const (
	PurposeApplicationDocument ObjectPurpose = "application-document"
	PurposeFulfillmentPayload  ObjectPurpose = "fulfillment-payload"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	ApplicationID string
	DocumentKind  string
	DocumentID    string
	Extension     string
	FileName      string
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var pathBuilders = map[ObjectPurpose]PathBuilder{
	PurposeApplicationDocument: buildApplicationDocumentPath,
	PurposeFulfillmentPayload:  buildFulfillmentPayloadPath,
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	builder, ok := pathBuilders[purpose]
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

func buildApplicationDocumentPath(params PathParams) (string, error) {
	applicationID, err := validateSegment("applicationID", params.ApplicationID)
	if err != nil {
		return "", err
	}
	kind, err := validateSegment("documentKind", params.DocumentKind)
	if err != nil {
		return "", err
	}
	documentID, err := validateSegment("documentID", params.DocumentID)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(params.Extension), "."))
	if ext == "" {
		return "", fmt.Errorf("storage: extension is required")
	}
	fileName, err := validateFileName(documentID + "." + ext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("applications/%s/documents/%s/%s", applicationID, kind, fileName), nil
}

func buildFulfillmentPayloadPath(params PathParams) (string, error) {
	applicationID, err := validateSegment("applicationID", params.ApplicationID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.FileName)
	if name == "" {
		name = "payload.json"
	}
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("applications/%s/fulfillment/%s", applicationID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
