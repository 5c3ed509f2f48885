package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

type fakeHorizon struct {
	accountErr error
	submitErr  error
	submitted  []*txnbuild.Transaction
}

func (f *fakeHorizon) AccountDetail(req horizonclient.AccountRequest) (hProtocol.Account, error) {
	if f.accountErr != nil {
		return hProtocol.Account{}, f.accountErr
	}
	return hProtocol.Account{AccountID: req.AccountID, Sequence: 7}, nil
}

func (f *fakeHorizon) SubmitTransaction(tx *txnbuild.Transaction) (hProtocol.Transaction, error) {
	if f.submitErr != nil {
		return hProtocol.Transaction{}, f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	return hProtocol.Transaction{Hash: "abc123", Ledger: 42}, nil
}

type staticRate struct {
	rate float64
	err  error
}

func (s staticRate) KesToUSD(context.Context) (float64, error) { return s.rate, s.err }

func newForwarderFixture(t *testing.T, horizon horizonAPI, rates rateSource) (*Forwarder, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	kp, err := keypair.Random()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	f := NewForwarder(Config{
		Enabled:     true,
		Network:     "testnet",
		SecretKey:   kp.Seed(),
		Destination: kp.Address(),
		USDCIssuer:  "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5",
		KesPerUSD:   130.0,
		Store:       NewStore(mock),
		Rates:       rates,
		Horizon:     horizon,
	})
	return f, mock
}

func TestForwardSubmitsPaymentAndRecordsHash(t *testing.T) {
	horizon := &fakeHorizon{}
	f, mock := newForwarderFixture(t, horizon, staticRate{rate: 0.0077})

	mock.ExpectExec("INSERT INTO settlement_records").
		WithArgs(pgxmock.AnyArg(), "TC-1", int64(150000), 11.55).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE settlement_records SET status = 'success'").
		WithArgs(pgxmock.AnyArg(), "abc123").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	f.Forward(context.Background(), "TC-1", 150000, "SGR7TY2")

	if len(horizon.submitted) != 1 {
		t.Fatalf("expected one submitted transaction, got %d", len(horizon.submitted))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForwardFailureEndsAsFailedRecord(t *testing.T) {
	horizon := &fakeHorizon{submitErr: errors.New("tx_bad_seq")}
	f, mock := newForwarderFixture(t, horizon, staticRate{rate: 0.0077})

	mock.ExpectExec("INSERT INTO settlement_records").
		WithArgs(pgxmock.AnyArg(), "TC-2", int64(150000), 11.55).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE settlement_records SET status = 'failed'").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// Must not panic or propagate; the booking is already confirmed.
	f.Forward(context.Background(), "TC-2", 150000, "SGR7TY2")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConvertFallsBackToStaticRate(t *testing.T) {
	horizon := &fakeHorizon{}
	f, _ := newForwarderFixture(t, horizon, staticRate{err: errors.New("rate api down")})

	got := f.convert(context.Background(), 130000)
	if got != 10.0 {
		t.Fatalf("expected fallback conversion 1300 KES -> 10 USDC, got %v", got)
	}
}

func TestDisabledForwarderIsNoOp(t *testing.T) {
	f := NewForwarder(Config{Enabled: false})
	// No store, no horizon: must return without touching anything.
	f.Forward(context.Background(), "TC-3", 150000, "SGR7TY2")
}

func TestInvalidSecretKeyDisablesForwarding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	f := NewForwarder(Config{Enabled: true, SecretKey: "not-a-seed", Store: NewStore(mock)})
	if f.enabled {
		t.Fatalf("expected forwarder disabled on bad key")
	}
	f.Forward(context.Background(), "TC-4", 150000, "SGR7TY2")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no database access expected: %v", err)
	}
}

func TestRateSourceParsesUSDRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/KES") {
			t.Errorf("expected /KES path, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rates": map[string]float64{"USD": 0.0077}})
	}))
	t.Cleanup(srv.Close)

	rate, err := NewRateSource(srv.URL).KesToUSD(context.Background())
	if err != nil {
		t.Fatalf("KesToUSD: %v", err)
	}
	if rate != 0.0077 {
		t.Fatalf("expected 0.0077, got %v", rate)
	}
}
