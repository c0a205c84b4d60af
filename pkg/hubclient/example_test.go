package hubclient_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/storepay/pkg/hubclient"
	"github.com/sigweihq/storepay/pkg/types"
)

// Example_verifyPurchase hands a locally confirmed purchase to the order service
func Example_verifyPurchase() {
	ctx := context.Background()
	client := hubclient.NewHubClient(&hubclient.Config{
		URL: "https://shop.sigwei.com",
	})

	resp, err := client.Orders.Verify(ctx, types.VerifyRequest{
		OrderID: "ord_123",
		TxHash:  "0x...", // hash of the confirmed purchase transaction
		ChainID: 8453,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Order %s: %s (verified=%t)\n", resp.OrderID, resp.Status, resp.Verified)
}

// Example_authenticationFlow demonstrates the wallet login workflow
func Example_authenticationFlow() {
	ctx := context.Background()
	client := hubclient.NewHubClient(nil) // Uses default URL

	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	// Fetches the nonce message, signs it and logs in
	auth, err := client.Auth.LoginWithKey(ctx, key)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Logged in as: %s\n", auth.User.WalletAddress)

	user, err := client.Auth.Me(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Current user: %s\n", user.WalletAddress)

	if err := client.Auth.Logout(ctx); err != nil {
		log.Fatal(err)
	}
}

// Example_orderHistory lists the buyer's paid orders from an earlier session
func Example_orderHistory() {
	ctx := context.Background()
	client := hubclient.NewHubClient(nil)

	// tokens saved from an earlier LoginWithKey
	client.Auth.Resume(types.TokenPair{AccessToken: "access-token", RefreshToken: "refresh-token"})

	orders, err := client.Orders.All(ctx, types.OrderListParams{
		ChainID: 8453,
		Status:  "paid",
	}, 20)
	if err != nil {
		var httpErr *hubclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsUnauthorized() {
			fmt.Println("session expired, sign in again")
			return
		}
		log.Fatal(err)
	}

	for _, order := range orders {
		fmt.Printf("Order %s: %s (%s minor units)\n", order.ID, order.Status, order.Amount)
		if order.TransactionHash != nil {
			fmt.Printf("  Hash: %s\n", *order.TransactionHash)
		}
	}
}
