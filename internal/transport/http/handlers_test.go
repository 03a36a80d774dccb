package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anchoring "certledger/internal/anchoring/service"
	certmodels "certledger/internal/certificate/models"
	identitymodels "certledger/internal/identity/models"
	uidmodels "certledger/internal/uniqueid/models"
	"certledger/internal/verification"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/testutil"
)

type stubAnchoring struct {
	issueErr  error
	revoked   *anchoring.RevokeResult
	gotID     string
	gotCaller identitymodels.Principal
}

func (s *stubAnchoring) Issue(_ context.Context, draft certmodels.Draft, p identitymodels.Principal) (*anchoring.IssueResult, error) {
	s.gotID, s.gotCaller = draft.Identifier, p
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	return &anchoring.IssueResult{Identifier: draft.Identifier, Hash: "h", TxID: "tx-1"}, nil
}

func (s *stubAnchoring) Revoke(_ context.Context, identifier string, p identitymodels.Principal) (*anchoring.RevokeResult, error) {
	s.gotID, s.gotCaller = identifier, p
	return s.revoked, nil
}

func (s *stubAnchoring) ListMine(context.Context, identitymodels.Principal) ([]*certmodels.CertificateRecord, error) {
	return nil, nil
}

type stubVerifier struct {
	res *verification.Result
	err error
}

func (s stubVerifier) Verify(context.Context, string, string) (*verification.Result, error) {
	return s.res, s.err
}

type stubUniqueIDs struct{}

func (stubUniqueIDs) Mint(context.Context, identitymodels.Principal) (*uidmodels.UniqueIDRecord, error) {
	return nil, dErrors.New(dErrors.CodeMintFailed, "ledger rejected binding")
}

func (stubUniqueIDs) List(context.Context, identitymodels.Principal) ([]*uidmodels.UniqueIDRecord, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCertificateHandler(t *testing.T) {
	t.Run("revoke passes the path id and caller", func(t *testing.T) {
		svc := &stubAnchoring{revoked: &anchoring.RevokeResult{Identifier: "S100", RevokedAt: time.Now(), AlreadyRevoked: true}}
		h := NewCertificateHandler(svc, discardLogger())

		req := testutil.NewJSONRequest(t, http.MethodDelete, "/certificates/S100", nil)
		req = testutil.WithURLParams(testutil.WithInstitute(req, "I1", "Institute One"), map[string]string{"id": "S100"})
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleRevoke), req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "S100", svc.gotID)
		assert.Equal(t, "I1", svc.gotCaller.InstituteID)
		body := testutil.UnmarshalResponse[revokeResponse](t, rr)
		assert.Equal(t, "certificate was already revoked", body.Message)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		h := NewCertificateHandler(&stubAnchoring{}, discardLogger())
		req := testutil.WithInstitute(testutil.NewJSONRequest(t, http.MethodPost, "/certificates", "not-an-object"), "I1", "One")
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleIssue), req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("inconsistent state keeps its code", func(t *testing.T) {
		svc := &stubAnchoring{issueErr: dErrors.New(dErrors.CodeInconsistentState, "compensation failed")}
		h := NewCertificateHandler(svc, discardLogger())
		req := testutil.WithInstitute(testutil.NewJSONRequest(t, http.MethodPost, "/certificates", map[string]string{"id": "S1"}), "I1", "One")
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleIssue), req)
		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "inconsistent_state")
	})

	t.Run("empty list encodes as an array", func(t *testing.T) {
		h := NewCertificateHandler(&stubAnchoring{}, discardLogger())
		req := testutil.WithInstitute(testutil.NewJSONRequest(t, http.MethodGet, "/certificates", nil), "I1", "One")
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleList), req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, "[]", rr.Body.String())
	})
}

func TestVerificationHandler(t *testing.T) {
	t.Run("pending is a 200 that is not valid", func(t *testing.T) {
		h := NewVerificationHandler(stubVerifier{res: &verification.Result{
			Verdict: verification.VerdictPending,
			Reason:  verification.ReasonAnchorPending,
		}})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verify", map[string]string{"certificateId": "S1", "publicKey": "PK"})
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleVerify), req)

		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.Equal(t, false, (*body)["isValid"])
		assert.Equal(t, "pending", (*body)["verdict"])
	})

	t.Run("ledger outage is an error, not a verdict", func(t *testing.T) {
		h := NewVerificationHandler(stubVerifier{err: dErrors.Wrap(errors.New("dial tcp"), dErrors.CodeInternal, "ledger query failed")})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/verify", map[string]string{"certificateId": "S1", "publicKey": "PK"})
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleVerify), req)
		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal")
	})
}

func TestUniqueIDHandler(t *testing.T) {
	h := NewUniqueIDHandler(stubUniqueIDs{})

	t.Run("mint failure is a bad gateway", func(t *testing.T) {
		req := testutil.WithInstitute(testutil.NewJSONRequest(t, http.MethodPost, "/unique-id/generate", nil), "I1", "One")
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleGenerate), req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadGateway, "mint_failed")
	})

	t.Run("empty list encodes as an array", func(t *testing.T) {
		req := testutil.WithInstitute(testutil.NewJSONRequest(t, http.MethodGet, "/unique-id/list", nil), "I1", "One")
		rr := testutil.DoRequest(http.HandlerFunc(h.HandleList), req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"uniqueIds":[]}`, rr.Body.String())
	})
}
