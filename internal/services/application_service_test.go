package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/platform/storage"
)

var serviceNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeRepositoryError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string       { return e.msg }
func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

type memoryApplicationRepo struct {
	mu        sync.Mutex
	apps      map[string]domain.Application
	insertErr error
	updateErr error
	inserts   int
	updates   int
}

func newMemoryApplicationRepo(apps ...domain.Application) *memoryApplicationRepo {
	repo := &memoryApplicationRepo{apps: map[string]domain.Application{}}
	for _, app := range apps {
		repo.apps[app.ID] = cloneApplication(app)
	}
	return repo
}

func (r *memoryApplicationRepo) Insert(_ context.Context, app domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.apps[app.ID]; exists {
		return fakeRepositoryError{msg: "duplicate", conflict: true}
	}
	r.inserts++
	r.apps[app.ID] = cloneApplication(app)
	return nil
}

func (r *memoryApplicationRepo) Update(_ context.Context, app domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, exists := r.apps[app.ID]; !exists {
		return fakeRepositoryError{msg: "missing", notFound: true}
	}
	r.updates++
	r.apps[app.ID] = cloneApplication(app)
	return nil
}

func (r *memoryApplicationRepo) FindByID(_ context.Context, id string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return domain.Application{}, fakeRepositoryError{msg: "missing", notFound: true}
	}
	return cloneApplication(app), nil
}

func (r *memoryApplicationRepo) FindByPaymentIntent(_ context.Context, intentID string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range r.apps {
		if app.PaymentIntentID == intentID {
			return cloneApplication(app), nil
		}
	}
	return domain.Application{}, fakeRepositoryError{msg: "missing", notFound: true}
}

func (r *memoryApplicationRepo) stored(t *testing.T, id string) domain.Application {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		t.Fatalf("application %s not stored", id)
	}
	return cloneApplication(app)
}

func cloneApplication(app domain.Application) domain.Application {
	if app.Documents != nil {
		docs := make(map[domain.DocumentKind]domain.Document, len(app.Documents))
		for kind, doc := range app.Documents {
			docs[kind] = doc
		}
		app.Documents = docs
	}
	if app.Pricing != nil {
		pricing := *app.Pricing
		app.Pricing = &pricing
	}
	app.Permits = append([]string(nil), app.Permits...)
	return app
}

type fakeUploader struct {
	requests []storage.UploadRequest
	bodies   [][]byte
	err      error
}

func (u *fakeUploader) Upload(_ context.Context, req storage.UploadRequest) (storage.UploadResult, error) {
	if u.err != nil {
		return storage.UploadResult{}, u.err
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return storage.UploadResult{}, err
	}
	u.requests = append(u.requests, req)
	u.bodies = append(u.bodies, data)
	return storage.UploadResult{
		Bucket:    "idp-documents",
		Object:    req.Object,
		Size:      int64(len(data)),
		PublicURL: "https://storage.example.com/idp-documents/" + req.Object,
	}, nil
}

func sequentialIDs(ids ...string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[next%len(ids)]
		next++
		return id
	}
}

func newTestApplicationService(t *testing.T, repo *memoryApplicationRepo, uploader *fakeUploader) ApplicationService {
	t.Helper()
	svc, err := NewApplicationService(ApplicationServiceDeps{
		Applications: repo,
		Documents:    uploader,
		Clock:        func() time.Time { return serviceNow },
		IDGenerator:  sequentialIDs("01HZX1", "01HZX2", "01HZX3"),
	})
	if err != nil {
		t.Fatalf("NewApplicationService: %v", err)
	}
	return svc
}

func validCreateCommand() CreateApplicationCommand {
	return CreateApplicationCommand{
		Applicant: domain.Applicant{
			FirstName:             "JANE",
			LastName:              "<b>doe</b>",
			Email:                 " Jane.Doe@Example.COM ",
			DateOfBirth:           "1990-05-17",
			LicenseNumber:         "d123-456",
			LicenseIssuingCountry: "Germany",
		},
		Permits:    []string{" IDP "},
		TravelDate: "2025-06-01",
		ShippingAddress: domain.ShippingAddress{
			RawText:     "1600 Amphitheatre Pkwy\n<i>Mountain View</i>, CA 94043",
			CountryHint: "US",
		},
		CouponCode: " save10 ",
	}
}

func TestApplicationServiceCreateSanitizesInput(t *testing.T) {
	repo := newMemoryApplicationRepo()
	svc := newTestApplicationService(t, repo, &fakeUploader{})

	app, err := svc.CreateApplication(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	if app.ID != "app_01HZX1" {
		t.Fatalf("unexpected id %q", app.ID)
	}
	if app.Status != domain.ApplicationStatusDraft {
		t.Fatalf("expected draft status, got %s", app.Status)
	}
	if app.Applicant.FirstName != "Jane" || app.Applicant.LastName != "Doe" {
		t.Fatalf("expected title cased names, got %q %q", app.Applicant.FirstName, app.Applicant.LastName)
	}
	if app.Applicant.Email != "jane.doe@example.com" {
		t.Fatalf("unexpected email %q", app.Applicant.Email)
	}
	if app.Applicant.LicenseNumber != "D123-456" || app.Applicant.LicenseIssuingCountry != "DE" {
		t.Fatalf("unexpected licence fields %+v", app.Applicant)
	}
	if len(app.Permits) != 1 || app.Permits[0] != "idp" {
		t.Fatalf("unexpected permits %v", app.Permits)
	}
	if app.ShippingCategory != domain.ShippingDomestic || app.ProcessingSpeed != domain.SpeedStandard {
		t.Fatalf("expected domestic/standard defaults, got %s/%s", app.ShippingCategory, app.ProcessingSpeed)
	}
	if app.ShippingAddress.RawText != "1600 Amphitheatre Pkwy\nMountain View, CA 94043" {
		t.Fatalf("unexpected raw address %q", app.ShippingAddress.RawText)
	}
	if app.CouponCode != "SAVE10" {
		t.Fatalf("unexpected coupon code %q", app.CouponCode)
	}
	if !app.CreatedAt.Equal(serviceNow) {
		t.Fatalf("unexpected created at %s", app.CreatedAt)
	}
	if stored := repo.stored(t, app.ID); stored.Applicant.Email != app.Applicant.Email {
		t.Fatalf("expected stored application to match returned one")
	}
}

func TestApplicationServiceCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateApplicationCommand)
	}{
		{"no permits", func(c *CreateApplicationCommand) { c.Permits = nil }},
		{"unknown permit", func(c *CreateApplicationCommand) { c.Permits = []string{"idp_2001"} }},
		{"too many permits", func(c *CreateApplicationCommand) { c.Permits = strings.Split(strings.Repeat("idp,", 9)[:35], ",") }},
		{"missing last name", func(c *CreateApplicationCommand) { c.Applicant.LastName = "   " }},
		{"bad email", func(c *CreateApplicationCommand) { c.Applicant.Email = "jane at example" }},
		{"bad travel date", func(c *CreateApplicationCommand) { c.TravelDate = "06/01/2025" }},
		{"bad birth date", func(c *CreateApplicationCommand) { c.Applicant.DateOfBirth = "1990-13-40" }},
		{"unknown category", func(c *CreateApplicationCommand) { c.ShippingCategory = "lunar" }},
		{"unknown speed", func(c *CreateApplicationCommand) { c.ProcessingSpeed = "instant" }},
		{"unknown licence country", func(c *CreateApplicationCommand) { c.Applicant.LicenseIssuingCountry = "Atlantis" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryApplicationRepo()
			svc := newTestApplicationService(t, repo, &fakeUploader{})
			cmd := validCreateCommand()
			tc.mutate(&cmd)
			_, err := svc.CreateApplication(context.Background(), cmd)
			if !errors.Is(err, ErrApplicationInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if repo.inserts != 0 {
				t.Fatalf("expected nothing stored")
			}
		})
	}
}

func TestApplicationServiceCreateTranslatesRepositoryErrors(t *testing.T) {
	repo := newMemoryApplicationRepo()
	repo.insertErr = fakeRepositoryError{msg: "db down", unavailable: true}
	svc := newTestApplicationService(t, repo, &fakeUploader{})

	_, err := svc.CreateApplication(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrApplicationUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestApplicationServiceUpdateRepricingClearsBreakdown(t *testing.T) {
	pricing := domain.OrderBreakdown{AmountInMinorUnits: 8405}
	existing := domain.Application{
		ID:               "app_1",
		Status:           domain.ApplicationStatusAwaitingPayment,
		Permits:          []string{"idp"},
		ShippingCategory: domain.ShippingDomestic,
		ProcessingSpeed:  domain.SpeedStandard,
		Pricing:          &pricing,
	}
	repo := newMemoryApplicationRepo(existing)
	svc := newTestApplicationService(t, repo, &fakeUploader{})

	travel := "2025-07-10"
	app, err := svc.UpdateApplication(context.Background(), UpdateApplicationCommand{
		ApplicationID: "app_1",
		TravelDate:    &travel,
	})
	if err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}
	if app.Pricing == nil || app.TravelDate != travel {
		t.Fatalf("expected pricing kept and travel date set, got %+v", app)
	}

	speed := "FASTEST"
	app, err = svc.UpdateApplication(context.Background(), UpdateApplicationCommand{
		ApplicationID:   "app_1",
		ProcessingSpeed: &speed,
	})
	if err != nil {
		t.Fatalf("UpdateApplication: %v", err)
	}
	if app.ProcessingSpeed != domain.SpeedFastest {
		t.Fatalf("expected fastest, got %s", app.ProcessingSpeed)
	}
	if app.Pricing != nil {
		t.Fatalf("expected stale pricing to be cleared")
	}
	if stored := repo.stored(t, "app_1"); stored.Pricing != nil || !stored.UpdatedAt.Equal(serviceNow) {
		t.Fatalf("unexpected stored application %+v", stored)
	}
}

func TestApplicationServiceUpdateRejectsPaidApplications(t *testing.T) {
	repo := newMemoryApplicationRepo(domain.Application{ID: "app_1", Status: domain.ApplicationStatusPaid, Permits: []string{"idp"}})
	svc := newTestApplicationService(t, repo, &fakeUploader{})

	travel := "2025-07-10"
	_, err := svc.UpdateApplication(context.Background(), UpdateApplicationCommand{ApplicationID: "app_1", TravelDate: &travel})
	if !errors.Is(err, ErrApplicationLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestApplicationServiceGetApplication(t *testing.T) {
	repo := newMemoryApplicationRepo(domain.Application{ID: "app_1", Status: domain.ApplicationStatusDraft})
	svc := newTestApplicationService(t, repo, &fakeUploader{})

	if _, err := svc.GetApplication(context.Background(), " "); !errors.Is(err, ErrApplicationInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
	if _, err := svc.GetApplication(context.Background(), "app_missing"); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	app, err := svc.GetApplication(context.Background(), "app_1")
	if err != nil || app.ID != "app_1" {
		t.Fatalf("unexpected result %+v %v", app, err)
	}
}

func TestApplicationServiceAttachDocument(t *testing.T) {
	repo := newMemoryApplicationRepo(domain.Application{ID: "app_1", Status: domain.ApplicationStatusDraft})
	uploader := &fakeUploader{}
	svc := newTestApplicationService(t, repo, uploader)

	doc, err := svc.AttachDocument(context.Background(), AttachDocumentCommand{
		ApplicationID: "app_1",
		Kind:          "license_front",
		ContentType:   "image/JPEG; charset=binary",
		Body:          bytes.NewReader([]byte("jpeg-bytes")),
	})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	wantObject := "applications/app_1/documents/license_front/doc_01HZX1.jpg"
	if doc.ObjectPath != wantObject {
		t.Fatalf("expected object %q, got %q", wantObject, doc.ObjectPath)
	}
	if doc.ContentType != "image/jpeg" || doc.Size != int64(len("jpeg-bytes")) {
		t.Fatalf("unexpected document %+v", doc)
	}
	if len(uploader.requests) != 1 || uploader.requests[0].ContentType != "image/jpeg" {
		t.Fatalf("unexpected upload requests %+v", uploader.requests)
	}
	if len(uploader.requests[0].AllowedContentTypes) != len(documentExtensions) {
		t.Fatalf("expected allow list to be forwarded")
	}

	replacement, err := svc.AttachDocument(context.Background(), AttachDocumentCommand{
		ApplicationID: "app_1",
		Kind:          "license_front",
		ContentType:   "application/pdf",
		Body:          strings.NewReader("%PDF"),
	})
	if err != nil {
		t.Fatalf("AttachDocument replacement: %v", err)
	}
	stored := repo.stored(t, "app_1")
	if len(stored.Documents) != 1 {
		t.Fatalf("expected one document, got %d", len(stored.Documents))
	}
	if got := stored.Documents[domain.DocumentLicenseFront]; got.ID != replacement.ID || !strings.HasSuffix(got.ObjectPath, ".pdf") {
		t.Fatalf("expected replacement to be stored, got %+v", got)
	}
}

func TestApplicationServiceAttachDocumentRejections(t *testing.T) {
	tests := []struct {
		name        string
		kind        string
		contentType string
		uploadErr   error
		status      domain.ApplicationStatus
		want        error
	}{
		{name: "unknown kind", kind: "selfie", contentType: "image/png", want: ErrApplicationInvalidInput},
		{name: "content type", kind: "signature", contentType: "text/html", want: ErrDocumentRejected},
		{name: "too large", kind: "signature", contentType: "image/png", uploadErr: storage.ErrObjectTooLarge, want: ErrDocumentRejected},
		{name: "storage down", kind: "signature", contentType: "image/png", uploadErr: errors.New("503"), want: ErrDocumentStorageUnavailable},
		{name: "locked", kind: "signature", contentType: "image/png", status: domain.ApplicationStatusFulfilled, want: ErrApplicationLocked},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status := tc.status
			if status == "" {
				status = domain.ApplicationStatusDraft
			}
			repo := newMemoryApplicationRepo(domain.Application{ID: "app_1", Status: status})
			svc := newTestApplicationService(t, repo, &fakeUploader{err: tc.uploadErr})

			_, err := svc.AttachDocument(context.Background(), AttachDocumentCommand{
				ApplicationID: "app_1",
				Kind:          tc.kind,
				ContentType:   tc.contentType,
				Body:          strings.NewReader("data"),
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if repo.updates != 0 {
				t.Fatalf("expected no writes")
			}
		})
	}
}

func TestTranslateApplicationRepoError(t *testing.T) {
	if err := translateApplicationRepoError(fakeRepositoryError{msg: "stale", conflict: true}); !errors.Is(err, ErrApplicationConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := translateApplicationRepoError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if err := translateApplicationRepoError(errors.New("boom")); !errors.Is(err, ErrApplicationUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
