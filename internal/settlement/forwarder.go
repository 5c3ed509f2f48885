package settlement

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/internal/observability/metrics"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

var settlementTracer = otel.Tracer("internal/settlement")

// Stellar text memos are capped at 28 bytes.
const memoLimit = 28

// horizonAPI is the slice of the Horizon client the forwarder uses.
type horizonAPI interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(tx *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// rateSource provides the live KES to USD rate.
type rateSource interface {
	KesToUSD(ctx context.Context) (float64, error)
}

// Config wires the forwarder. With Enabled false every Forward call is a
// logged no-op, which is how non-production environments run.
type Config struct {
	Enabled     bool
	Network     string // "testnet" or "public"
	HorizonURL  string
	SecretKey   string
	Destination string
	USDCIssuer  string
	MemoPrefix  string
	// KesPerUSD is the static fallback rate used when the rate API is down.
	KesPerUSD float64

	Store   *Store
	Rates   rateSource
	Horizon horizonAPI
	Metrics *metrics.PaymentMetrics
	Logger  *logging.Logger
}

// Forwarder pushes confirmed fiat collections onto Stellar as USDC. It is
// strictly best effort: the booking is already confirmed by the time Forward
// runs, so every failure ends as a failed settlement record and a log line,
// never as an error to the caller.
type Forwarder struct {
	enabled     bool
	passphrase  string
	source      *keypair.Full
	destination string
	usdcIssuer  string
	memoPrefix  string
	kesPerUSD   float64

	store   *Store
	rates   rateSource
	horizon horizonAPI
	metrics *metrics.PaymentMetrics
	logger  *logging.Logger
}

// NewForwarder builds the forwarder. An invalid secret key disables
// forwarding rather than failing startup.
func NewForwarder(cfg Config) *Forwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	f := &Forwarder{
		enabled:     cfg.Enabled,
		destination: cfg.Destination,
		usdcIssuer:  cfg.USDCIssuer,
		memoPrefix:  cfg.MemoPrefix,
		kesPerUSD:   cfg.KesPerUSD,
		store:       cfg.Store,
		rates:       cfg.Rates,
		horizon:     cfg.Horizon,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
	if f.kesPerUSD <= 0 {
		f.kesPerUSD = 129.0
	}
	if f.memoPrefix == "" {
		f.memoPrefix = "TibaCloud-"
	}
	if cfg.Network == "public" {
		f.passphrase = network.PublicNetworkPassphrase
	} else {
		f.passphrase = network.TestNetworkPassphrase
	}
	if f.horizon == nil {
		url := cfg.HorizonURL
		if url == "" {
			url = "https://horizon-testnet.stellar.org"
			if cfg.Network == "public" {
				url = "https://horizon.stellar.org"
			}
		}
		f.horizon = &horizonclient.Client{
			HorizonURL: url,
			HTTP:       &http.Client{Timeout: 30 * time.Second},
		}
	}
	if !cfg.Enabled {
		return f
	}
	kp, err := keypair.ParseFull(cfg.SecretKey)
	if err != nil {
		logger.Error("settlement disabled: invalid stellar secret key", "error", err)
		f.enabled = false
		return f
	}
	if cfg.Store == nil {
		panic("settlement: store required when forwarding is enabled")
	}
	f.source = kp
	return f
}

// Forward converts the collected KES to USDC and submits a Stellar payment.
// It never returns an error; the settlement record carries the outcome.
func (f *Forwarder) Forward(ctx context.Context, paymentReference string, amountCents int64, receipt string) {
	if !f.enabled {
		f.logger.Debug("settlement forwarding disabled", "reference", paymentReference)
		return
	}
	ctx, span := settlementTracer.Start(ctx, "settlement.Forward")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", paymentReference))

	usdc := f.convert(ctx, amountCents)
	recordID, err := f.store.Create(ctx, paymentReference, amountCents, usdc)
	if err != nil {
		f.logger.Error("settlement record create failed", "error", err, "reference", paymentReference)
		f.metrics.ObserveSettlement("error")
		return
	}

	hash, err := f.submit(usdc, receipt)
	if err != nil {
		f.logger.Error("settlement submission failed",
			"error", err, "reference", paymentReference, "usdc_amount", usdc)
		if markErr := f.store.MarkFailed(ctx, recordID, err.Error()); markErr != nil {
			f.logger.Error("settlement record update failed", "error", markErr, "record_id", recordID)
		}
		f.metrics.ObserveSettlement("error")
		return
	}

	if err := f.store.MarkSuccess(ctx, recordID, hash); err != nil {
		f.logger.Error("settlement record update failed", "error", err, "record_id", recordID)
	}
	f.metrics.ObserveSettlement("ok")
	f.logger.Info("settlement forwarded",
		"reference", paymentReference, "tx_hash", hash, "usdc_amount", usdc)
}

// convert turns KES cents into a USDC amount, preferring the live rate and
// falling back to the configured static rate.
func (f *Forwarder) convert(ctx context.Context, kesCents int64) float64 {
	kes := float64(kesCents) / 100
	rate := 1 / f.kesPerUSD
	if f.rates != nil {
		if live, err := f.rates.KesToUSD(ctx); err == nil {
			rate = live
		} else {
			f.logger.Warn("rate fetch failed, using fallback rate", "error", err, "kes_per_usd", f.kesPerUSD)
		}
	}
	return math.Round(kes*rate*1e6) / 1e6
}

func (f *Forwarder) submit(usdc float64, receipt string) (string, error) {
	account, err := f.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: f.source.Address()})
	if err != nil {
		return "", fmt.Errorf("settlement: load source account: %w", err)
	}

	memo := f.memoPrefix + receipt
	if len(memo) > memoLimit {
		memo = memo[:memoLimit]
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              txnbuild.MinBaseFee,
		Memo:                 txnbuild.MemoText(memo),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: f.destination,
				Amount:      strconv.FormatFloat(usdc, 'f', 6, 64),
				Asset:       txnbuild.CreditAsset{Code: "USDC", Issuer: f.usdcIssuer},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("settlement: build transaction: %w", err)
	}
	tx, err = tx.Sign(f.passphrase, f.source)
	if err != nil {
		return "", fmt.Errorf("settlement: sign transaction: %w", err)
	}
	resp, err := f.horizon.SubmitTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("settlement: submit transaction: %w", err)
	}
	return resp.Hash, nil
}
