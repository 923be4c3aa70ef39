package agent

import (
	"context"
	"strings"
	"testing"

	"ParaWallet-Chain/internal/custody"
	"ParaWallet-Chain/internal/web3"
)

func TestFindActionBySimile(t *testing.T) {
	cases := map[string]string{
		"CREATE_PARA_WALLET":   ActionCreateWallet,
		"generate_para_wallet": ActionCreateWallet,
		"PARA_SIGN_MESSAGE":    ActionSignMessage,
		"SIGN_TX_PARA":         ActionSignTransaction,
	}
	for name, want := range cases {
		action, ok := FindAction(name)
		if !ok || action.Name != want {
			t.Fatalf("%s: expected %s, got %+v", name, want, action.Name)
		}
	}
	if _, ok := FindAction("TRANSFER_EVERYTHING"); ok {
		t.Fatalf("unknown action should not match")
	}
}

func TestActionsValidateRequiresSession(t *testing.T) {
	f := newFixture(t, false)
	for _, action := range Actions() {
		if action.Validate(f.svc) {
			t.Fatalf("%s should not validate before start", action.Name)
		}
	}
	if err := f.svc.Start(context.Background(), custody.Credentials{APIKey: "k"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, action := range Actions() {
		if !action.Validate(f.svc) {
			t.Fatalf("%s should validate after start", action.Name)
		}
	}
}

func TestCreateWalletAction(t *testing.T) {
	f := newFixture(t, true)
	action, _ := FindAction(ActionCreateWallet)

	result := action.Handle(context.Background(), f.svc, Content{})
	if !result.Success || result.Text != "Created a new Para wallet of type EVM" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, ok := result.Data["wallet"].(custody.Wallet); !ok {
		t.Fatalf("wallet missing from data: %+v", result.Data)
	}

	f.backend.Fail = context.DeadlineExceeded
	result = action.Handle(context.Background(), f.svc, Content{"walletType": "SOLANA"})
	if result.Success || result.Text != "Failed to create Para wallet" || result.Error == "" {
		t.Fatalf("unexpected failure result %+v", result)
	}
}

func TestSignMessageActionParameters(t *testing.T) {
	f := newFixture(t, true)
	w, _ := f.svc.CreateWallet(context.Background(), "")
	action, _ := FindAction(ActionSignMessage)

	result := action.Handle(context.Background(), f.svc, Content{"walletId": w.ID})
	if result.Text != "Missing required parameters. Please provide walletId and messageToSign." {
		t.Fatalf("unexpected text %q", result.Text)
	}

	result = action.Handle(context.Background(), f.svc, Content{"walletId": w.ID, "messageToSign": "Hello World"})
	if !result.Success || !strings.HasPrefix(result.Data["signature"].(string), "0x") {
		t.Fatalf("unexpected result %+v", result)
	}

	result = action.Handle(context.Background(), f.svc, Content{"walletId": "ghost", "messageToSign": "Hello World"})
	if result.Success || result.Text != "Failed to sign message with Para wallet" {
		t.Fatalf("unexpected failure result %+v", result)
	}
}

func TestSignTransactionActionClassifiesPayload(t *testing.T) {
	f := newFixture(t, true)
	w, _ := f.svc.CreateWallet(context.Background(), "")
	action, _ := FindAction(ActionSignTransaction)

	result := action.Handle(context.Background(), f.svc, Content{"walletId": w.ID, "chainId": "1"})
	if result.Text != "Missing required parameters. Please provide walletId, transaction, and chainId." {
		t.Fatalf("unexpected text %q", result.Text)
	}

	result = action.Handle(context.Background(), f.svc, Content{
		"walletId": w.ID,
		"chainId":  float64(137),
		"transaction": map[string]any{
			"to":    recipient,
			"value": "0.01",
			"gas":   "21000",
		},
	})
	if !result.Success || result.Text != "Successfully signed transaction with Para wallet" {
		t.Fatalf("unexpected result %+v", result)
	}
	receipt, ok := result.Data["receipt"].(web3.Receipt)
	if !ok || receipt.Status != web3.ReceiptSuccess {
		t.Fatalf("unexpected receipt %+v", result.Data["receipt"])
	}

	result = action.Handle(context.Background(), f.svc, Content{
		"walletId":    w.ID,
		"chainId":     "1",
		"transaction": map[string]any{"to": "not-an-address"},
	})
	if result.Success || result.Error == "" {
		t.Fatalf("invalid payload should fail, got %+v", result)
	}
}

func TestWalletProviderText(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if got := WalletProvider(ctx, f.svc); got != "Para wallet service is not initialized." {
		t.Fatalf("unexpected text %q", got)
	}

	if err := f.svc.Start(ctx, custody.Credentials{APIKey: "k"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := WalletProvider(ctx, f.svc); got != "No Para wallets available." {
		t.Fatalf("unexpected text %q", got)
	}

	w, _ := f.svc.CreateWallet(ctx, "")
	got := WalletProvider(ctx, f.svc)
	want := "# Para Wallets\n\n## Wallet: " + w.ID + "\n- Address: " + w.Address + "\n- Type: EVM\n\n"
	if got != want {
		t.Fatalf("unexpected provider text:\n%s", got)
	}

	f.backend.Fail = context.Canceled
	if got := WalletProvider(ctx, f.svc); got != "Error retrieving Para wallet information." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestPluginDescriptor(t *testing.T) {
	plugin := NewPlugin()
	if plugin.Name != "para-wallet" || len(plugin.Actions) != 3 || len(plugin.Providers) != 1 {
		t.Fatalf("unexpected plugin %+v", plugin)
	}
}
