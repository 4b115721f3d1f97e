package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/platform/storage"
	"github.com/idpfunnel/api/internal/platform/textutil"
	"github.com/idpfunnel/api/internal/repositories"
)

const (
	applicationIDPrefix = "app_"
	documentIDPrefix    = "doc_"
	dateLayout          = "2006-01-02"
	maxPermitsPerOrder  = 8
)

var (
	// ErrApplicationInvalidInput indicates the submitted application failed validation.
	ErrApplicationInvalidInput = errors.New("application: invalid input")
	// ErrApplicationNotFound indicates the application does not exist.
	ErrApplicationNotFound = errors.New("application: not found")
	// ErrApplicationLocked indicates the application has been paid and can no longer change.
	ErrApplicationLocked = errors.New("application: application is locked")
	// ErrApplicationConflict indicates a concurrent write to the same application.
	ErrApplicationConflict = errors.New("application: conflicting update")
	// ErrApplicationUnavailable indicates the application store could not be reached.
	ErrApplicationUnavailable = errors.New("application: store unavailable")
	// ErrDocumentRejected indicates an upload had a disallowed type or exceeded the size limit.
	ErrDocumentRejected = errors.New("application: document rejected")
	// ErrDocumentStorageUnavailable indicates the object store failed while uploading.
	ErrDocumentStorageUnavailable = errors.New("application: document storage unavailable")
)

// documentExtensions lists accepted upload content types and the extension stored for each.
var documentExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"image/heic":      "heic",
	"application/pdf": "pdf",
}

// ApplicationServiceDeps bundles the collaborators of the application service.
type ApplicationServiceDeps struct {
	Applications repositories.ApplicationRepository
	Documents    DocumentUploader
	Prices       *domain.PriceTable
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(context.Context, string, map[string]any)
}

type applicationService struct {
	applications repositories.ApplicationRepository
	documents    DocumentUploader
	prices       domain.PriceTable
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ ApplicationService = (*applicationService)(nil)

// NewApplicationService wires the intake service.
func NewApplicationService(deps ApplicationServiceDeps) (ApplicationService, error) {
	if deps.Applications == nil {
		return nil, errors.New("application service: application repository is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("application service: document uploader is required")
	}
	prices := domain.DefaultPriceTable()
	if deps.Prices != nil {
		prices = *deps.Prices
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &applicationService{
		applications: deps.Applications,
		documents:    deps.Documents,
		prices:       prices,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

func (s *applicationService) CreateApplication(ctx context.Context, cmd CreateApplicationCommand) (domain.Application, error) {
	now := s.clock()
	app := domain.Application{
		ID:        applicationIDPrefix + s.newID(),
		Status:    domain.ApplicationStatusDraft,
		Documents: map[domain.DocumentKind]domain.Document{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	applicant, err := sanitizeApplicant(cmd.Applicant)
	if err != nil {
		return domain.Application{}, err
	}
	app.Applicant = applicant

	if app.Permits, err = s.validatePermits(cmd.Permits); err != nil {
		return domain.Application{}, err
	}
	if app.TravelDate, err = validateDate("travelDate", cmd.TravelDate); err != nil {
		return domain.Application{}, err
	}
	if app.ShippingCategory, err = parseCategory(cmd.ShippingCategory); err != nil {
		return domain.Application{}, err
	}
	if app.ProcessingSpeed, err = parseSpeed(cmd.ProcessingSpeed); err != nil {
		return domain.Application{}, err
	}
	app.ShippingAddress = sanitizeShippingAddress(cmd.ShippingAddress)
	app.CouponCode = domain.NormalizeCouponCode(cmd.CouponCode)

	if err := s.applications.Insert(ctx, app); err != nil {
		return domain.Application{}, translateApplicationRepoError(err)
	}
	s.logger(ctx, "application.created", map[string]any{
		"applicationId": app.ID,
		"permits":       len(app.Permits),
	})
	return app, nil
}

func (s *applicationService) UpdateApplication(ctx context.Context, cmd UpdateApplicationCommand) (domain.Application, error) {
	app, err := s.loadEditable(ctx, cmd.ApplicationID)
	if err != nil {
		return domain.Application{}, err
	}

	repriced := false
	if cmd.Applicant != nil {
		applicant, err := sanitizeApplicant(*cmd.Applicant)
		if err != nil {
			return domain.Application{}, err
		}
		app.Applicant = applicant
	}
	if cmd.Permits != nil {
		permits, err := s.validatePermits(*cmd.Permits)
		if err != nil {
			return domain.Application{}, err
		}
		app.Permits = permits
		repriced = true
	}
	if cmd.TravelDate != nil {
		if app.TravelDate, err = validateDate("travelDate", *cmd.TravelDate); err != nil {
			return domain.Application{}, err
		}
	}
	if cmd.ShippingCategory != nil {
		if app.ShippingCategory, err = parseCategory(*cmd.ShippingCategory); err != nil {
			return domain.Application{}, err
		}
		repriced = true
	}
	if cmd.ProcessingSpeed != nil {
		if app.ProcessingSpeed, err = parseSpeed(*cmd.ProcessingSpeed); err != nil {
			return domain.Application{}, err
		}
		repriced = true
	}
	if cmd.ShippingAddress != nil {
		app.ShippingAddress = sanitizeShippingAddress(*cmd.ShippingAddress)
	}

	// A stale breakdown must not be charged; the next payment intent call reprices.
	if repriced {
		app.Pricing = nil
	}
	app.UpdatedAt = s.clock()

	if err := s.applications.Update(ctx, app); err != nil {
		return domain.Application{}, translateApplicationRepoError(err)
	}
	return app, nil
}

func (s *applicationService) GetApplication(ctx context.Context, applicationID string) (domain.Application, error) {
	id := strings.TrimSpace(applicationID)
	if id == "" {
		return domain.Application{}, fmt.Errorf("%w: application id is required", ErrApplicationInvalidInput)
	}
	app, err := s.applications.FindByID(ctx, id)
	if err != nil {
		return domain.Application{}, translateApplicationRepoError(err)
	}
	return app, nil
}

func (s *applicationService) AttachDocument(ctx context.Context, cmd AttachDocumentCommand) (domain.Document, error) {
	kind, ok := domain.ParseDocumentKind(strings.TrimSpace(cmd.Kind))
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: unknown document kind %q", ErrApplicationInvalidInput, cmd.Kind)
	}
	if cmd.Body == nil {
		return domain.Document{}, fmt.Errorf("%w: document body is required", ErrApplicationInvalidInput)
	}
	contentType := mediaType(cmd.ContentType)
	ext, ok := documentExtensions[contentType]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: content type %q is not accepted", ErrDocumentRejected, cmd.ContentType)
	}

	app, err := s.loadEditable(ctx, cmd.ApplicationID)
	if err != nil {
		return domain.Document{}, err
	}

	docID := documentIDPrefix + s.newID()
	object, err := storage.BuildObjectPath(storage.PurposeApplicationDocument, storage.PathParams{
		ApplicationID: app.ID,
		DocumentKind:  string(kind),
		DocumentID:    docID,
		Extension:     ext,
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", ErrApplicationInvalidInput, err)
	}

	result, err := s.documents.Upload(ctx, storage.UploadRequest{
		Object:              object,
		ContentType:         contentType,
		Body:                cmd.Body,
		AllowedContentTypes: acceptedDocumentTypes(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectTooLarge), errors.Is(err, storage.ErrContentTypeDenied):
			return domain.Document{}, fmt.Errorf("%w: %v", ErrDocumentRejected, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.Document{}, err
		default:
			return domain.Document{}, fmt.Errorf("%w: %v", ErrDocumentStorageUnavailable, err)
		}
	}

	doc := domain.Document{
		ID:          docID,
		Kind:        kind,
		ObjectPath:  result.Object,
		PublicURL:   result.PublicURL,
		ContentType: contentType,
		Size:        result.Size,
		UploadedAt:  s.clock(),
	}
	if app.Documents == nil {
		app.Documents = map[domain.DocumentKind]domain.Document{}
	}
	previous, replaced := app.Documents[kind]
	app.Documents[kind] = doc
	app.UpdatedAt = doc.UploadedAt

	if err := s.applications.Update(ctx, app); err != nil {
		return domain.Document{}, translateApplicationRepoError(err)
	}

	fields := map[string]any{
		"applicationId": app.ID,
		"documentId":    doc.ID,
		"kind":          string(kind),
		"size":          doc.Size,
	}
	if replaced {
		fields["replacedDocumentId"] = previous.ID
	}
	s.logger(ctx, "application.document_attached", fields)
	return doc, nil
}

func (s *applicationService) loadEditable(ctx context.Context, applicationID string) (domain.Application, error) {
	app, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if !app.Status.Editable() {
		return domain.Application{}, fmt.Errorf("%w: status %s", ErrApplicationLocked, app.Status)
	}
	return app, nil
}

func (s *applicationService) validatePermits(permits []string) ([]string, error) {
	if len(permits) == 0 {
		return nil, fmt.Errorf("%w: at least one permit is required", ErrApplicationInvalidInput)
	}
	if len(permits) > maxPermitsPerOrder {
		return nil, fmt.Errorf("%w: at most %d permits per application", ErrApplicationInvalidInput, maxPermitsPerOrder)
	}
	out := make([]string, 0, len(permits))
	for _, permit := range permits {
		id := normalizePermit(permit)
		if !s.prices.KnownPermit(id) {
			return nil, fmt.Errorf("%w: unknown permit %q", ErrApplicationInvalidInput, permit)
		}
		out = append(out, id)
	}
	return out, nil
}

func sanitizeApplicant(in domain.Applicant) (domain.Applicant, error) {
	out := domain.Applicant{
		FirstName:             textutil.PersonName(in.FirstName),
		LastName:              textutil.PersonName(in.LastName),
		Email:                 strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:                 textutil.PlainText(in.Phone),
		PlaceOfBirth:          textutil.PlainText(in.PlaceOfBirth),
		LicenseNumber:         strings.ToUpper(textutil.PlainText(in.LicenseNumber)),
		LicenseIssuingCountry: resolveCountryHint(in.LicenseIssuingCountry),
		LicenseIssuingState:   strings.ToUpper(textutil.PlainText(in.LicenseIssuingState)),
	}
	if out.FirstName == "" || out.LastName == "" {
		return domain.Applicant{}, fmt.Errorf("%w: first and last name are required", ErrApplicationInvalidInput)
	}
	if addr, err := mail.ParseAddress(out.Email); err != nil || addr.Address != out.Email || !strings.Contains(out.Email, ".") {
		return domain.Applicant{}, fmt.Errorf("%w: a valid email address is required", ErrApplicationInvalidInput)
	}
	if strings.TrimSpace(in.LicenseIssuingCountry) != "" && out.LicenseIssuingCountry == "" {
		return domain.Applicant{}, fmt.Errorf("%w: unknown licence issuing country %q", ErrApplicationInvalidInput, in.LicenseIssuingCountry)
	}
	var err error
	if out.DateOfBirth, err = validateDate("dateOfBirth", in.DateOfBirth); err != nil {
		return domain.Applicant{}, err
	}
	if out.LicenseExpiry, err = validateDate("licenseExpiry", in.LicenseExpiry); err != nil {
		return domain.Applicant{}, err
	}
	return out, nil
}

func sanitizeShippingAddress(in domain.ShippingAddress) domain.ShippingAddress {
	return domain.ShippingAddress{
		RecipientName: textutil.PersonName(in.RecipientName),
		RawText:       plainTextLines(in.RawText),
		CountryHint:   textutil.PlainText(in.CountryHint),
		Fields: domain.AddressFields{
			Line1:      textutil.PlainText(in.Fields.Line1),
			Line2:      textutil.PlainText(in.Fields.Line2),
			City:       textutil.PlainText(in.Fields.City),
			State:      textutil.PlainText(in.Fields.State),
			PostalCode: textutil.PlainText(in.Fields.PostalCode),
			Country:    textutil.PlainText(in.Fields.Country),
		},
	}
}

// plainTextLines sanitises each line separately so multi-line addresses keep their layout.
func plainTextLines(value string) string {
	lines := splitLines(value)
	for i, line := range lines {
		lines[i] = textutil.PlainText(line)
	}
	return joinNonEmpty("\n", lines...)
}

func validateDate(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return "", fmt.Errorf("%w: %s must be formatted YYYY-MM-DD", ErrApplicationInvalidInput, field)
	}
	return value, nil
}

func parseCategory(value string) (domain.ShippingCategory, error) {
	if strings.TrimSpace(value) == "" {
		return domain.ShippingDomestic, nil
	}
	category, ok := domain.ParseShippingCategory(value)
	if !ok {
		return "", fmt.Errorf("%w: unknown shipping category %q", ErrApplicationInvalidInput, value)
	}
	return category, nil
}

func parseSpeed(value string) (domain.ProcessingSpeed, error) {
	if strings.TrimSpace(value) == "" {
		return domain.SpeedStandard, nil
	}
	speed, ok := domain.ParseProcessingSpeed(value)
	if !ok {
		return "", fmt.Errorf("%w: unknown processing speed %q", ErrApplicationInvalidInput, value)
	}
	return speed, nil
}

func mediaType(contentType string) string {
	value := strings.TrimSpace(contentType)
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func acceptedDocumentTypes() []string {
	out := make([]string, 0, len(documentExtensions))
	for contentType := range documentExtensions {
		out = append(out, contentType)
	}
	return out
}

func translateApplicationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrApplicationNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrApplicationConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrApplicationUnavailable, err)
}
