// Package monzo syncs a Monzo bank account: daily balance snapshots and the
// transaction feed. Monzo is the one OAuth provider here: tokens are short
// lived and refreshed through the authorization-code flow.
package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
)

const (
	baseURL = "https://api.monzo.com"

	transactionPageSize = 100
	defaultDaysBack     = 29

	InstanceBalance      types.InstanceType = "balance"
	InstanceTransactions types.InstanceType = "transactions"

	// extraAccountID pins an instance to one account; unset means the
	// first retail account
	extraAccountID = "account_id"
)

type Plugin struct {
	now func() time.Time
}

var _ interfaces.OAuthPlugin = &Plugin{}

type Option func(*Plugin)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(opts ...Option) *Plugin {
	p := &Plugin{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Service() types.Service {
	return types.ServiceMonzo
}

func (p *Plugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{
		{
			Type: string(InstanceBalance),
			DefaultConfig: model.SyncConfig{
				UpdateFrequencyMinutes: 1440,
			},
		},
		{
			Type: string(InstanceTransactions),
			DefaultConfig: model.SyncConfig{
				UpdateFrequencyMinutes: 60,
				DaysBack:               defaultDaysBack,
			},
		},
	}
}

func (p *Plugin) BaseURL() string {
	return baseURL
}

func (p *Plugin) AuthScheme() types.AuthScheme {
	return types.AuthSchemeBearer
}

func (p *Plugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	switch integration.InstanceType {
	case InstanceBalance:
		// single-page snapshot, no pagination state
		return nil, nil
	case InstanceTransactions:
		daysBack := integration.Config.DaysBack
		if daysBack <= 0 {
			daysBack = defaultDaysBack
		}
		// Monzo's since parameter accepts an RFC3339 time for the first
		// page and a transaction ID thereafter
		since := now.AddDate(0, 0, -daysBack).Format(time.RFC3339)
		return model.MarshalCursor(&model.SinceCursor{Since: since})
	default:
		return nil, goerr.New("unknown monzo instance type", goerr.V("instance_type", integration.InstanceType))
	}
}

func (p *Plugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	switch integration.InstanceType {
	case InstanceBalance:
		return p.fetchBalances(ctx, client, integration)
	case InstanceTransactions:
		return p.fetchTransactions(ctx, client, integration, cursor)
	default:
		return nil, goerr.New("unknown monzo instance type", goerr.V("instance_type", integration.InstanceType))
	}
}

type account struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Closed bool   `json:"closed"`
}

type accountsResponse struct {
	Accounts []account `json:"accounts"`
}

func (p *Plugin) resolveAccount(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration) (string, error) {
	if pinned, ok := integration.Config.Extra[extraAccountID].(string); ok && pinned != "" {
		return pinned, nil
	}

	resp, err := client.Do(ctx, "GET", "/accounts", nil, nil)
	if err != nil {
		return "", err
	}
	if err := plugin.CheckResponse(resp, "/accounts"); err != nil {
		return "", err
	}

	var body accountsResponse
	if err := resp.Decode(&body); err != nil {
		return "", goerr.Wrap(types.ErrProviderData, "failed to decode monzo accounts")
	}

	for _, acct := range body.Accounts {
		if !acct.Closed {
			return acct.ID, nil
		}
	}
	return "", goerr.New("no open monzo account found")
}

// balanceSnapshot is the synthesized item handed to Normalize: the balance
// response joined with the account and snapshot date
type balanceSnapshot struct {
	AccountID    string `json:"account_id"`
	Date         string `json:"date"`
	Balance      int64  `json:"balance"`
	TotalBalance int64  `json:"total_balance"`
	Currency     string `json:"currency"`
	SpendToday   int64  `json:"spend_today"`
}

func (p *Plugin) fetchBalances(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration) (*model.Page, error) {
	accountID, err := p.resolveAccount(ctx, client, integration)
	if err != nil {
		return nil, err
	}

	query := url.Values{"account_id": []string{accountID}}
	resp, err := client.Do(ctx, "GET", "/balance", query, nil)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, "/balance"); err != nil {
		return nil, err
	}

	var snapshot balanceSnapshot
	if err := resp.Decode(&snapshot); err != nil {
		return nil, goerr.Wrap(types.ErrProviderData, "failed to decode monzo balance")
	}
	snapshot.AccountID = accountID
	snapshot.Date = p.now().Format("2006-01-02")

	item, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal balance snapshot")
	}

	return &model.Page{Items: []json.RawMessage{item}}, nil
}

type transactionsResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
}

func (p *Plugin) fetchTransactions(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	var since model.SinceCursor
	if err := json.Unmarshal(cursor, &since); err != nil {
		return nil, goerr.Wrap(err, "failed to decode since cursor")
	}

	accountID, err := p.resolveAccount(ctx, client, integration)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"account_id": []string{accountID},
		"limit":      []string{strconv.Itoa(transactionPageSize)},
		"expand[]":   []string{"merchant"},
	}
	if since.Since != "" {
		query.Set("since", since.Since)
	}

	resp, err := client.Do(ctx, "GET", "/transactions", query, nil)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, "/transactions"); err != nil {
		return nil, err
	}

	var body transactionsResponse
	if err := resp.Decode(&body); err != nil {
		return nil, goerr.Wrap(types.ErrProviderData, "failed to decode monzo transactions")
	}

	page := &model.Page{Items: body.Transactions}

	// a full page means more may follow; resume from the last ID
	if len(body.Transactions) == transactionPageSize {
		var last struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body.Transactions[len(body.Transactions)-1], &last); err == nil && last.ID != "" {
			next, err := model.MarshalCursor(&model.SinceCursor{Since: last.ID})
			if err != nil {
				return nil, err
			}
			page.Next = next
		}
	}

	return page, nil
}

func (p *Plugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	var (
		draft *model.EventDraft
		err   error
	)
	switch integration.InstanceType {
	case InstanceBalance:
		draft, err = p.normalizeBalance(integration, item)
	case InstanceTransactions:
		draft, err = p.normalizeTransaction(integration, item)
	default:
		return nil, goerr.New("unknown monzo instance type", goerr.V("instance_type", integration.InstanceType))
	}
	if err != nil || draft == nil {
		return nil, err
	}
	return []*model.EventDraft{draft}, nil
}

func (p *Plugin) normalizeBalance(integration *model.Integration, item json.RawMessage) (*model.EventDraft, error) {
	var snapshot balanceSnapshot
	if err := json.Unmarshal(item, &snapshot); err != nil {
		return nil, goerr.Wrap(err, "failed to decode balance snapshot item")
	}
	if snapshot.AccountID == "" || snapshot.Date == "" {
		return nil, goerr.New("balance snapshot missing account or date")
	}

	day, err := time.Parse("2006-01-02", snapshot.Date)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid balance snapshot date", goerr.V("date", snapshot.Date))
	}

	// balances arrive in minor units; multiplier 100 reconstructs the
	// display-currency amount
	value := snapshot.Balance
	mult := int64(100)

	return &model.EventDraft{
		SourceID:        fmt.Sprintf("monzo_balance_%s_%s", snapshot.AccountID, snapshot.Date),
		Service:         types.ServiceMonzo,
		Domain:          "finance",
		Action:          "had_balance",
		Time:            day,
		Actor:           accountObject(snapshot.AccountID),
		Value:           &value,
		ValueMultiplier: &mult,
		ValueUnit:       snapshot.Currency,
		Metadata: map[string]any{
			"spend_today":   snapshot.SpendToday,
			"total_balance": snapshot.TotalBalance,
		},
	}, nil
}

type transaction struct {
	ID            string `json:"id"`
	Created       string `json:"created"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	DeclineReason string `json:"decline_reason"`
	Merchant      *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"merchant"`
	AccountID string `json:"account_id"`
}

func (p *Plugin) normalizeTransaction(integration *model.Integration, item json.RawMessage) (*model.EventDraft, error) {
	var tx transaction
	if err := json.Unmarshal(item, &tx); err != nil {
		return nil, goerr.Wrap(err, "failed to decode monzo transaction")
	}
	if tx.ID == "" {
		return nil, goerr.New("monzo transaction missing id")
	}

	// declined card attempts never settled; not part of the timeline
	if tx.DeclineReason != "" {
		return nil, nil
	}

	created, err := time.Parse(time.RFC3339, tx.Created)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid transaction created time", goerr.V("transaction_id", tx.ID))
	}

	action := "spent_money"
	if tx.Amount > 0 {
		action = "received_money"
	}

	value := tx.Amount
	mult := int64(100)

	var target *model.ObjectDraft
	if tx.Merchant != nil && tx.Merchant.Name != "" {
		target = &model.ObjectDraft{
			Concept:    "merchant",
			ObjectType: "monzo_merchant",
			Title:      tx.Merchant.Name,
			Metadata:   map[string]any{"merchant_id": tx.Merchant.ID},
		}
	}

	return &model.EventDraft{
		SourceID:        fmt.Sprintf("monzo_transaction_%s_%s", integration.ID, tx.ID),
		Service:         types.ServiceMonzo,
		Domain:          "finance",
		Action:          action,
		Time:            created,
		Actor:           accountObject(tx.AccountID),
		Target:          target,
		Value:           &value,
		ValueMultiplier: &mult,
		ValueUnit:       tx.Currency,
		Metadata: map[string]any{
			"description": tx.Description,
			"category":    tx.Category,
		},
	}, nil
}

func accountObject(accountID string) model.ObjectDraft {
	return model.ObjectDraft{
		Concept:    "account",
		ObjectType: "monzo_account",
		Title:      "Monzo",
		Metadata:   map[string]any{"account_id": accountID},
	}
}
