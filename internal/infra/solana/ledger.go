// Package solana records trade audit entries on the Solana ledger via the
// memo program. The intent id inside the memo is the idempotency key:
// verification scans the wallet's recent signatures for it.
package solana

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/rpc"

	"tradeguard/internal/domain"
)

// memoPrefix namespaces this system's entries among the wallet's
// transactions. Changing it orphans previously written records.
const memoPrefix = "tradeguard:v1:"

// Ledger writes and verifies trade records against a Solana RPC node.
type Ledger struct {
	rpc      *rpc.Client
	owner    solanago.PrivateKey
	commit   rpc.CommitmentType
	lookback int
	logger   *slog.Logger
}

// NewLedger creates a ledger client. commit is one of the RPC commitment
// levels: processed|confirmed|finalized.
func NewLedger(rpcURL, commit, walletKeyB58 string, lookback int) (*Ledger, error) {
	owner, err := solanago.PrivateKeyFromBase58(walletKeyB58)
	if err != nil {
		return nil, &domain.ConfigError{Field: "solana.wallet", Err: err}
	}

	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}

	if lookback <= 0 {
		lookback = 200
	}

	return &Ledger{
		rpc:      rpc.New(rpcURL),
		owner:    owner,
		commit:   c,
		lookback: lookback,
		logger:   slog.Default().With("module", "solana_ledger"),
	}, nil
}

// BuildMemo renders the on-chain payload for an intent. It is
// deterministic so a retried Record writes byte-identical content.
func BuildMemo(idempotencyKey string, details domain.TradeDetails) (string, error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return memoPrefix + idempotencyKey + ":" + string(payload), nil
}

// MatchesMemo reports whether a signature's memo belongs to the given
// intent. RPC nodes prepend a length tag to memos, so this matches by
// substring rather than prefix.
func MatchesMemo(memoText, idempotencyKey string) bool {
	return strings.Contains(memoText, memoPrefix+idempotencyKey)
}

// Record writes the trade details as a memo transaction and returns the
// transaction signature. The caller must Verify before retrying an
// ambiguous failure; Record itself always submits.
func (l *Ledger) Record(ctx context.Context, idempotencyKey string, details domain.TradeDetails) (string, error) {
	memoText, err := BuildMemo(idempotencyKey, details)
	if err != nil {
		return "", domain.NewPermanentLedgerError("encode", err)
	}

	recent, err := l.rpc.GetLatestBlockhash(ctx, l.commit)
	if err != nil {
		return "", domain.NewLedgerError("blockhash", err)
	}

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			memo.NewMemoInstruction([]byte(memoText), l.owner.PublicKey()).Build(),
		},
		recent.Value.Blockhash,
		solanago.TransactionPayer(l.owner.PublicKey()),
	)
	if err != nil {
		return "", domain.NewPermanentLedgerError("build", err)
	}

	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(l.owner.PublicKey()) {
			return &l.owner
		}
		return nil
	}); err != nil {
		return "", domain.NewPermanentLedgerError("sign", err)
	}

	sig, err := l.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: l.commit,
	})
	if err != nil {
		// The node may have accepted the transaction before the response
		// was lost; the effect is unknown until verified.
		return "", domain.NewLedgerError("send", err)
	}

	l.logger.Info("Trade recorded on ledger", "key", idempotencyKey, "signature", sig.String())
	return sig.String(), nil
}

// Verify looks for an existing record for the intent among the wallet's
// recent transactions. (nil, nil) means no record within the lookback.
func (l *Ledger) Verify(ctx context.Context, idempotencyKey string) (*domain.LedgerProof, error) {
	limit := l.lookback
	sigs, err := l.rpc.GetSignaturesForAddressWithOpts(ctx, l.owner.PublicKey(), &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: l.commit,
	})
	if err != nil {
		return nil, domain.NewLedgerError("verify", err)
	}

	for _, entry := range sigs {
		if entry.Err != nil || entry.Memo == nil {
			continue
		}
		if MatchesMemo(*entry.Memo, idempotencyKey) {
			return &domain.LedgerProof{
				LedgerRef: entry.Signature.String(),
				Memo:      *entry.Memo,
			}, nil
		}
	}
	return nil, nil
}
