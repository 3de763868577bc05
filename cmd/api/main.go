package main

import (
	"context"
	"log"

	"gigflow/chain"
	"gigflow/config"
	"gigflow/db"
	"gigflow/dispute"
	"gigflow/invoice"
	"gigflow/payment"
	"gigflow/user"
	"gigflow/wallet"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	userService := user.NewService(user.NewRepository(pool), cfg.JWTSecret)

	processor := payment.NewClient(cfg.ProcessorSecretKey, cfg.ProcessorBaseURL)
	if processor.Offline() {
		log.Printf("payment: no processor secret configured, using offline intents")
	}

	invoiceService := invoice.NewService(invoice.NewRepository(pool), processor, cfg.AllowSimulatedPayments)
	webhooks := payment.NewWebhookHandler(invoiceService, payment.NewEventStore(pool), cfg.ProcessorWebhookSecret)
	if cfg.ProcessorWebhookSecret == "" {
		log.Printf("payment: webhook signature verification disabled (development mode)")
	}

	disputeService := dispute.NewService(dispute.NewRepository(pool), invoiceService, userService)

	var submitter chain.Submitter
	if cfg.ChainConfigured() {
		eth, err := chain.NewEthSubmitter(cfg.ChainRPCURL, cfg.ChainPrivateKey, cfg.ChainContract)
		if err != nil {
			log.Fatalf("bootstrap chain submitter: %v", err)
		}
		submitter = eth
	} else {
		log.Printf("chain: not configured, mints will be stubbed")
	}
	minting := chain.NewGateway(submitter, invoiceService, userService)

	walletService := wallet.NewService(wallet.NewChallengeStore(0), cfg.JWTSecret, cfg.WalletDevMode)
	if cfg.WalletDevMode {
		log.Printf("wallet: dev mode enabled, unverified signatures are accepted")
	}

	log.Printf("escrow core ready: invoices=%t disputes=%t webhooks=%t minting=%t wallet=%t",
		invoiceService != nil, disputeService != nil, webhooks != nil, minting != nil, walletService != nil)
}
