// Package chain wraps the Solana RPC and WebSocket surface the agent
// uses. Every call is admitted through the budget governor first, and
// log/slot subscriptions are reference-counted so the agent holds at
// most one chain subscription per filter.
package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// Admitter gates and counts RPC calls. Satisfied by budget.Governor.
type Admitter interface {
	MayCall(method string) bool
	Record(method string)
}

// TokenBalance is one parsed SPL token account owned by the wallet.
type TokenBalance struct {
	Mint      string  `json:"mint"`
	Amount    float64 `json:"amount"`
	RawAmount string  `json:"raw_amount"`
	Decimals  uint8   `json:"decimals"`
}

// Client is the budget-gated RPC client.
type Client struct {
	rpc        *rpc.Client
	gov        Admitter
	commitment rpc.CommitmentType
	log        zerolog.Logger
}

// NewClient builds a client against one RPC endpoint.
func NewClient(endpoint string, gov Admitter, commitment rpc.CommitmentType, log zerolog.Logger) *Client {
	return &Client{
		rpc:        rpc.New(endpoint),
		gov:        gov,
		commitment: commitment,
		log:        log.With().Str("component", "chain").Logger(),
	}
}

// Commitment returns the client's preferred commitment level.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

func (c *Client) admit(method string) error {
	if !c.gov.MayCall(method) {
		return fmt.Errorf("%w: %s declined", errs.ErrBudgetExhausted, method)
	}
	return nil
}

func wrapRPC(op string, err error) error {
	classified := errs.Classify(err)
	if classified != err {
		return fmt.Errorf("%s: %w", op, classified)
	}
	return errs.RPCf("%s: %v", op, err)
}

// GetBalance returns the wallet's lamport balance.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	const method = "getBalance"
	if err := c.admit(method); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, owner, c.commitment)
	c.gov.Record(method)
	if err != nil {
		return 0, wrapRPC("get balance", err)
	}
	return out.Value, nil
}

// GetLatestBlockhash returns the current blockhash and its expiry height.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	const method = "getLatestBlockhash"
	if err := c.admit(method); err != nil {
		return solana.Hash{}, 0, err
	}
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.gov.Record(method)
	if err != nil {
		return solana.Hash{}, 0, wrapRPC("get latest blockhash", err)
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// GetFeeForMessage returns the network fee for a compiled message, in lamports.
func (c *Client) GetFeeForMessage(ctx context.Context, msg *solana.Message) (uint64, error) {
	const method = "getFeeForMessage"
	if err := c.admit(method); err != nil {
		return 0, err
	}
	raw, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	out, err := c.rpc.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(raw), c.commitment)
	c.gov.Record(method)
	if err != nil {
		return 0, wrapRPC("get fee for message", err)
	}
	if out.Value == nil {
		return 0, errs.RPCf("get fee for message: node returned no fee")
	}
	return *out.Value, nil
}

// GetTokenBalances returns the wallet's parsed SPL token accounts.
func (c *Client) GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]TokenBalance, error) {
	const method = "getTokenAccountsByOwner"
	if err := c.admit(method); err != nil {
		return nil, err
	}
	program := solana.TokenProgramID
	out, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &program},
		&rpc.GetTokenAccountsOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingJSONParsed,
		})
	c.gov.Record(method)
	if err != nil {
		return nil, wrapRPC("get token accounts", err)
	}

	balances := make([]TokenBalance, 0, len(out.Value))
	for _, acc := range out.Value {
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		tb, ok := parseTokenAccount(acc.Account.Data.GetRawJSON())
		if !ok {
			continue
		}
		balances = append(balances, tb)
	}
	return balances, nil
}

// parsedTokenAccount mirrors the jsonParsed spl-token account layout.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount   string  `json:"amount"`
				Decimals uint8   `json:"decimals"`
				UIAmount float64 `json:"uiAmount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

func parseTokenAccount(raw json.RawMessage) (TokenBalance, bool) {
	var p parsedTokenAccount
	if err := json.Unmarshal(raw, &p); err != nil || p.Parsed.Info.Mint == "" {
		return TokenBalance{}, false
	}
	return TokenBalance{
		Mint:      p.Parsed.Info.Mint,
		Amount:    p.Parsed.Info.TokenAmount.UIAmount,
		RawAmount: p.Parsed.Info.TokenAmount.Amount,
		Decimals:  p.Parsed.Info.TokenAmount.Decimals,
	}, true
}

// GetParsedAccountInfo returns the jsonParsed view of an account, or nil
// when the account does not exist.
func (c *Client) GetParsedAccountInfo(ctx context.Context, account solana.PublicKey) (json.RawMessage, error) {
	const method = "getAccountInfo"
	if err := c.admit(method); err != nil {
		return nil, err
	}
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingJSONParsed,
	})
	c.gov.Record(method)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, wrapRPC("get account info", err)
	}
	if out.Value == nil || out.Value.Data == nil {
		return nil, nil
	}
	return out.Value.Data.GetRawJSON(), nil
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	const method = "sendTransaction"
	if err := c.admit(method); err != nil {
		return solana.Signature{}, err
	}
	maxRetries := uint(3)
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
		MaxRetries:          &maxRetries,
	})
	c.gov.Record(method)
	if err != nil {
		return solana.Signature{}, wrapRPC("send transaction", err)
	}
	return sig, nil
}

// ConfirmTransaction polls signature status until the transaction reaches
// confirmed (or better) or the timeout elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	const method = "getSignatureStatuses"
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if err := c.admit(method); err != nil {
			return err
		}
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		c.gov.Record(method)
		if err != nil {
			c.log.Debug().Err(err).Str("signature", sig.String()).Msg("Status poll failed")
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return errs.RPCf("transaction %s failed on chain: %v", sig.String(), st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: transaction %s not confirmed after %s",
				errs.ErrNetworkTransient, sig.String(), timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
