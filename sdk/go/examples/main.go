package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ParaWallet-Chain/sdk/go/walletd"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/wallets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(walletd.Wallet{
			ID:      "wallet-demo",
			Address: "0x52908400098527886E0F7030069857D2E4169EE7",
			Type:    "EVM",
		})
	})
	mux.HandleFunc("POST /api/v1/messages/sign", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"signature": "0x5369676e6564"})
	})
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		hash := "0x" + fmt.Sprintf("%064x", 42)
		_ = json.NewEncoder(w).Encode(walletd.TransactionResult{
			Hash: hash,
			Receipt: walletd.Receipt{
				Status:      "success",
				BlockNumber: 19000000,
				GasUsed:     21000,
				TxHash:      hash,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := walletd.NewClient(srv.URL, srv.Client())
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wallet, err := client.CreateWallet(ctx, "EVM")
	if err != nil {
		panic(err)
	}
	fmt.Printf("created wallet %s (%s)\n", wallet.ID, wallet.Address)

	signature, err := client.SignMessage(ctx, wallet.ID, "Hello World")
	if err != nil {
		panic(err)
	}
	fmt.Printf("signature %s\n", signature)

	result, err := client.SignTransaction(ctx, wallet.ID, "1", walletd.Transaction{
		To:    "0x000000000000000000000000000000000000dEaD",
		Value: "0.01",
	}, "demo-transfer-1")
	if err != nil {
		panic(err)
	}
	fmt.Printf("transaction %s mined in block %d (status=%s)\n", result.Hash, result.Receipt.BlockNumber, result.Receipt.Status)
}
