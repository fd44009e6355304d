package service

import (
	"context"
	"fmt"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
	"github.com/academix/school-attendance-api/pkg/faceclient"
)

// VerificationInput carries the method-specific proof a student presents
// when checking in.
type VerificationInput struct {
	QRToken      string    `json:"qr_token,omitempty"`
	FaceEncoding []float64 `json:"face_encoding,omitempty"`
}

func (in VerificationInput) hasProof() bool {
	return in.QRToken != "" || len(in.FaceEncoding) > 0
}

// VerificationResult is the outcome of a successful verification. Data
// is persisted on the record as verification_data.
type VerificationResult struct {
	Method string
	Data   models.JSONMap
}

// Verifier validates a student's presence proof against a session.
type Verifier interface {
	Verify(ctx context.Context, session *models.AttendanceSession, studentID string, input VerificationInput) (*VerificationResult, error)
}

// FaceMatcher is the slice of the face service client the face verifier
// needs. Implemented by faceclient.Client.
type FaceMatcher interface {
	Match(ctx context.Context, encoding []float64, tolerance float64) (*faceclient.Match, error)
}

// VerifierRegistry hands out the verifier for a session's method. The
// method set is closed; an unknown value is a programming error surfaced
// as a validation failure.
type VerifierRegistry struct {
	qr     *qrVerifier
	face   *faceVerifier
	manual *manualVerifier
}

// NewVerifierRegistry builds the registry. matcher may be nil when face
// recognition is not deployed; face verification then fails cleanly.
func NewVerifierRegistry(matcher FaceMatcher, faceTolerance float64) *VerifierRegistry {
	return &VerifierRegistry{
		qr:     &qrVerifier{},
		face:   &faceVerifier{matcher: matcher, tolerance: faceTolerance},
		manual: &manualVerifier{},
	}
}

// For returns the verifier bound to the method.
func (r *VerifierRegistry) For(method models.AttendanceMethod) (Verifier, error) {
	switch method {
	case models.MethodQRCode:
		return r.qr, nil
	case models.MethodFaceRecognition:
		return r.face, nil
	case models.MethodManual:
		return r.manual, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported attendance method %q", method))
	}
}

type qrVerifier struct{}

func (v *qrVerifier) Verify(_ context.Context, session *models.AttendanceSession, _ string, input VerificationInput) (*VerificationResult, error) {
	if input.QRToken == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "qr_token is required for qr_code sessions")
	}
	if session.QRCode == nil || input.QRToken != *session.QRCode {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "qr token does not match session")
	}
	return &VerificationResult{
		Method: string(models.MethodQRCode),
		Data:   models.JSONMap{"qr_token": input.QRToken},
	}, nil
}

type faceVerifier struct {
	matcher   FaceMatcher
	tolerance float64
}

func (v *faceVerifier) Verify(ctx context.Context, _ *models.AttendanceSession, studentID string, input VerificationInput) (*VerificationResult, error) {
	if len(input.FaceEncoding) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "face_encoding is required for face_recognition sessions")
	}
	if v.matcher == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "face recognition service is not configured")
	}

	match, err := v.matcher.Match(ctx, input.FaceEncoding, v.tolerance)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "face match request failed")
	}
	if match == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no registered face matched")
	}
	// An empty studentID accepts any registered match, which the verify
	// endpoint uses to probe a proof without naming a student.
	if studentID != "" && match.Label != studentID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "matched face belongs to a different student")
	}

	return &VerificationResult{
		Method: string(models.MethodFaceRecognition),
		Data:   models.JSONMap{"confidence": match.Confidence},
	}, nil
}

type manualVerifier struct{}

func (v *manualVerifier) Verify(_ context.Context, _ *models.AttendanceSession, _ string, _ VerificationInput) (*VerificationResult, error) {
	return &VerificationResult{
		Method: string(models.MethodManual),
		Data:   models.JSONMap{},
	}, nil
}
