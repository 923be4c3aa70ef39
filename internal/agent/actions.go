package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ParaWallet-Chain/internal/custody"
	"ParaWallet-Chain/internal/web3"
)

// Action names understood by the agent runtime.
const (
	ActionCreateWallet    = "CREATE_PARA_WALLET"
	ActionSignMessage     = "SIGN_PARA_MESSAGE"
	ActionSignTransaction = "SIGN_PARA_TRANSACTION"
)

// Content is the free-form payload an agent message carries.
type Content map[string]any

func (c Content) text(key string) string {
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

// ActionResult is what a handler hands back to the conversation.
type ActionResult struct {
	Text    string         `json:"text"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Action is a named capability the agent can invoke.
type Action struct {
	Name        string
	Similes     []string
	Description string
	Validate    func(svc *Service) bool
	Handle      func(ctx context.Context, svc *Service, content Content) ActionResult
}

// Matches reports whether name refers to this action or one of its similes.
func (a Action) Matches(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == a.Name {
		return true
	}
	for _, simile := range a.Similes {
		if name == simile {
			return true
		}
	}
	return false
}

func initialized(svc *Service) bool {
	return svc != nil && svc.Initialized()
}

// Actions returns the wallet actions in a stable order.
func Actions() []Action {
	return []Action{
		{
			Name:        ActionCreateWallet,
			Similes:     []string{"MAKE_PARA_WALLET", "GENERATE_PARA_WALLET"},
			Description: "Create a new Para wallet for the user",
			Validate:    initialized,
			Handle:      handleCreateWallet,
		},
		{
			Name:        ActionSignMessage,
			Similes:     []string{"PARA_SIGN_MESSAGE", "SIGN_MESSAGE_PARA"},
			Description: "Sign a message using a Para wallet",
			Validate:    initialized,
			Handle:      handleSignMessage,
		},
		{
			Name:        ActionSignTransaction,
			Similes:     []string{"PARA_SIGN_TX", "SIGN_TX_PARA"},
			Description: "Sign a transaction using a Para wallet",
			Validate:    initialized,
			Handle:      handleSignTransaction,
		},
	}
}

// FindAction looks an action up by name or simile.
func FindAction(name string) (Action, bool) {
	for _, action := range Actions() {
		if action.Matches(name) {
			return action, true
		}
	}
	return Action{}, false
}

func failed(text string, err error) ActionResult {
	return ActionResult{Text: text, Error: err.Error()}
}

func handleCreateWallet(ctx context.Context, svc *Service, content Content) ActionResult {
	kind := custody.NormalizeKind(custody.WalletKind(content.text("walletType")))
	created, err := svc.CreateWallet(ctx, kind)
	if err != nil {
		return failed("Failed to create Para wallet", err)
	}
	return ActionResult{
		Text:    fmt.Sprintf("Created a new Para wallet of type %s", kind),
		Success: true,
		Data: map[string]any{
			"wallet": created,
		},
	}
}

func handleSignMessage(ctx context.Context, svc *Service, content Content) ActionResult {
	walletID := content.text("walletId")
	message, _ := content["messageToSign"].(string)
	if walletID == "" || message == "" {
		return ActionResult{Text: "Missing required parameters. Please provide walletId and messageToSign."}
	}
	signature, err := svc.SignMessage(ctx, walletID, message)
	if err != nil {
		return failed("Failed to sign message with Para wallet", err)
	}
	return ActionResult{
		Text:    "Successfully signed message with Para wallet",
		Success: true,
		Data:    map[string]any{"signature": signature},
	}
}

func handleSignTransaction(ctx context.Context, svc *Service, content Content) ActionResult {
	walletID := content.text("walletId")
	chainID := content.text("chainId")
	rawTx, ok := content["transaction"]
	if walletID == "" || chainID == "" || !ok || rawTx == nil {
		return ActionResult{Text: "Missing required parameters. Please provide walletId, transaction, and chainId."}
	}

	raw, err := rawTransaction(rawTx)
	if err != nil {
		return failed("Failed to sign transaction with Para wallet", err)
	}
	tx, err := web3.ClassifyTransaction(raw)
	if err != nil {
		return failed("Failed to sign transaction with Para wallet", err)
	}

	var opts []CallOption
	if key := content.text("idempotencyKey"); key != "" {
		opts = append(opts, WithIdempotencyKey(key))
	}
	result, err := svc.SignTransaction(ctx, walletID, tx, chainID, opts...)
	if err != nil {
		return failed("Failed to sign transaction with Para wallet", err)
	}
	return ActionResult{
		Text:    "Successfully signed transaction with Para wallet",
		Success: true,
		Data: map[string]any{
			"transactionHash": result.Hash.Hex(),
			"receipt":         result.Receipt,
		},
	}
}

func rawTransaction(v any) (web3.RawTransaction, error) {
	switch tx := v.(type) {
	case web3.RawTransaction:
		return tx, nil
	case *web3.RawTransaction:
		return *tx, nil
	case map[string]any:
		return web3.RawTransactionFromMap(tx), nil
	case Content:
		return web3.RawTransactionFromMap(tx), nil
	case json.RawMessage:
		var raw web3.RawTransaction
		err := json.Unmarshal(tx, &raw)
		return raw, err
	default:
		return web3.RawTransaction{}, fmt.Errorf("unsupported transaction payload %T", v)
	}
}

// WalletProvider renders the session's wallets as markdown for the agent's
// context window.
func WalletProvider(ctx context.Context, svc *Service) string {
	if !initialized(svc) {
		return "Para wallet service is not initialized."
	}
	wallets, err := svc.ListWallets(ctx)
	if err != nil {
		return "Error retrieving Para wallet information."
	}
	if len(wallets) == 0 {
		return "No Para wallets available."
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].ID < wallets[j].ID })

	var b strings.Builder
	b.WriteString("# Para Wallets\n\n")
	for _, w := range wallets {
		fmt.Fprintf(&b, "## Wallet: %s\n", w.ID)
		fmt.Fprintf(&b, "- Address: %s\n", w.Address)
		fmt.Fprintf(&b, "- Type: %s\n\n", w.Type)
	}
	return b.String()
}

// Provider produces context text for the agent.
type Provider func(ctx context.Context, svc *Service) string

// Plugin bundles what the agent runtime registers.
type Plugin struct {
	Name        string
	Description string
	Actions     []Action
	Providers   []Provider
}

// NewPlugin returns the wallet plugin descriptor.
func NewPlugin() Plugin {
	return Plugin{
		Name:        "para-wallet",
		Description: "Para wallet integration for conversational agents",
		Actions:     Actions(),
		Providers:   []Provider{WalletProvider},
	}
}
