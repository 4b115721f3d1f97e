package storage

import "testing"

func TestBuildApplicationDocumentPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeApplicationDocument, PathParams{
		ApplicationID: "app_01HZX",
		DocumentKind:  "license_front",
		DocumentID:    "doc_01HZY",
		Extension:     ".JPG",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "applications/app_01HZX/documents/license_front/doc_01HZY.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildFulfillmentPayloadPathDefaultsFileName(t *testing.T) {
	path, err := BuildObjectPath(PurposeFulfillmentPayload, PathParams{ApplicationID: "app_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "applications/app_1/fulfillment/payload.json" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeApplicationDocument, PathParams{
		ApplicationID: "../bad",
		DocumentKind:  "signature",
		DocumentID:    "doc",
		Extension:     "png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}

func TestBuildObjectPathRequiresExtension(t *testing.T) {
	_, err := BuildObjectPath(PurposeApplicationDocument, PathParams{
		ApplicationID: "app",
		DocumentKind:  "signature",
		DocumentID:    "doc",
	})
	if err == nil {
		t.Fatalf("expected error for missing extension")
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	if _, err := BuildObjectPath(ObjectPurpose("unknown"), PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
