package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"termlend/crypto"
	"termlend/integrations/exports"
	"termlend/sdk/market"
)

var (
	rpcEndpoint = defaultRPCEndpoint()
	rpcToken    = os.Getenv("TERMLEND_RPC_TOKEN")
	intentKey   string
)

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("TERMLEND_RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8645"
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	client := market.New(rpcEndpoint, market.WithAuthToken(rpcToken))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	command := args[0]
	rest := args[1:]
	switch command {
	case "generate-key":
		generateKey()
	case "markets":
		result, err := client.GetMarkets(ctx)
		exitOn(err)
		printJSON(result)
	case "floating-pool":
		requireArgs(rest, 1, "floating-pool <market>")
		result, err := client.GetFloatingPool(ctx, rest[0])
		exitOn(err)
		printJSON(result)
	case "fixed-pool":
		requireArgs(rest, 2, "fixed-pool <market> <maturity>")
		result, err := client.GetFixedPool(ctx, rest[0], parseMaturity(rest[1]))
		exitOn(err)
		printJSON(result)
	case "account":
		requireArgs(rest, 2, "account <market> <address>")
		result, err := client.GetUserAccount(ctx, rest[0], rest[1])
		exitOn(err)
		printJSON(result)
	case "snapshot":
		requireArgs(rest, 2, "snapshot <market> <address>")
		result, err := client.GetAccountSnapshot(ctx, rest[0], rest[1])
		exitOn(err)
		printJSON(result)
	case "preview-borrow":
		requireArgs(rest, 3, "preview-borrow <market> <maturity> <amount>")
		result, err := client.PreviewBorrow(ctx, rest[0], parseMaturity(rest[1]), rest[2])
		exitOn(err)
		printJSON(result)
	case "supply":
		requireArgs(rest, 3, "supply <market> <supplier> <amount>")
		result, err := client.Supply(ctx, market.SupplyRequest{
			Market: rest[0], Supplier: rest[1], Amount: rest[2],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "withdraw-floating":
		requireArgs(rest, 3, "withdraw-floating <market> <supplier> <shares>")
		result, err := client.WithdrawFloating(ctx, market.WithdrawFloatingRequest{
			Market: rest[0], Supplier: rest[1], Shares: rest[2],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "borrow-floating":
		requireArgs(rest, 3, "borrow-floating <market> <borrower> <amount>")
		result, err := client.BorrowFloating(ctx, market.FloatingDebtRequest{
			Market: rest[0], Borrower: rest[1], Amount: rest[2],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "repay-floating":
		requireArgs(rest, 3, "repay-floating <market> <borrower> <amount>")
		result, err := client.RepayFloating(ctx, market.FloatingDebtRequest{
			Market: rest[0], Borrower: rest[1], Amount: rest[2],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "deposit":
		requireArgs(rest, 4, "deposit <market> <supplier> <maturity> <amount>")
		result, err := client.DepositAtMaturity(ctx, market.FixedDepositRequest{
			Market: rest[0], Supplier: rest[1], Maturity: parseMaturity(rest[2]), Amount: rest[3],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "borrow":
		requireArgs(rest, 4, "borrow <market> <borrower> <maturity> <amount>")
		result, err := client.BorrowAtMaturity(ctx, market.FixedBorrowRequest{
			Market: rest[0], Borrower: rest[1], Maturity: parseMaturity(rest[2]), Amount: rest[3],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "repay":
		requireArgs(rest, 4, "repay <market> <borrower> <maturity> <positionAssets>")
		result, err := client.RepayAtMaturity(ctx, market.FixedRepayRequest{
			Market: rest[0], Borrower: rest[1], Maturity: parseMaturity(rest[2]), PositionAssets: rest[3],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "withdraw":
		requireArgs(rest, 4, "withdraw <market> <owner> <maturity> <positionAssets>")
		result, err := client.WithdrawAtMaturity(ctx, market.FixedWithdrawRequest{
			Market: rest[0], Owner: rest[1], Maturity: parseMaturity(rest[2]), PositionAssets: rest[3],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	case "export":
		requireArgs(rest, 2, "export <csv|jsonl> <market> [maturity...]")
		maturities := make([]uint64, 0, len(rest)-2)
		for _, raw := range rest[2:] {
			maturities = append(maturities, parseMaturity(raw))
		}
		rows, err := exports.CollectRows(ctx, client, rest[1], maturities)
		exitOn(err)
		var data []byte
		var checksum string
		switch rest[0] {
		case "csv":
			data, checksum, err = exports.PoolsCSV(rows)
		case "jsonl":
			data, checksum, err = exports.PoolsJSONL(rows)
		default:
			err = fmt.Errorf("unknown export format %q", rest[0])
		}
		exitOn(err)
		os.Stdout.Write(data)
		fmt.Fprintf(os.Stderr, "checksum: %s\n", checksum)
	case "treasury-withdraw":
		requireArgs(rest, 3, "treasury-withdraw <market> <recipient> <amount>")
		result, err := client.WithdrawTreasuryFees(ctx, market.TreasuryWithdrawRequest{
			Market: rest[0], Recipient: rest[1], Amount: rest[2],
		}, intentKey)
		exitOn(err)
		printJSON(result)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			i++
			rpcEndpoint = args[i]
		case strings.HasPrefix(args[i], "--rpc="):
			rpcEndpoint = strings.TrimPrefix(args[i], "--rpc=")
		case args[i] == "--intent":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--intent requires a value")
			}
			i++
			intentKey = args[i]
		case strings.HasPrefix(args[i], "--intent="):
			intentKey = strings.TrimPrefix(args[i], "--intent=")
		default:
			remaining = append(remaining, args[i])
		}
	}
	return remaining, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		exitOn(err)
	}
	fmt.Printf("address: %s\n", key.PubKey().Address().String())
	fmt.Printf("private key: %s\n", hex.EncodeToString(key.Bytes()))
	fmt.Println("store the private key securely; it is not saved anywhere")
}

func parseMaturity(value string) uint64 {
	maturity, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid maturity %q\n", value)
		os.Exit(1)
	}
	return maturity
}

func requireArgs(args []string, count int, usage string) {
	if len(args) < count {
		fmt.Fprintf(os.Stderr, "usage: marketctl %s\n", usage)
		os.Exit(1)
	}
}

func printJSON(value interface{}) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		exitOn(err)
	}
	fmt.Println(string(encoded))
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`marketctl - termlend market operations

global flags:
  --rpc <url>      daemon endpoint (default $TERMLEND_RPC_URL or http://127.0.0.1:8645)
  --intent <key>   idempotency key for mutating commands
  TERMLEND_RPC_TOKEN is read from the environment for authenticated calls

queries:
  markets
  floating-pool <market>
  fixed-pool <market> <maturity>
  account <market> <address>
  snapshot <market> <address>
  preview-borrow <market> <maturity> <amount>

operations:
  supply <market> <supplier> <amount>
  withdraw-floating <market> <supplier> <shares>
  borrow-floating <market> <borrower> <amount>
  repay-floating <market> <borrower> <amount>
  deposit <market> <supplier> <maturity> <amount>
  borrow <market> <borrower> <maturity> <amount>
  repay <market> <borrower> <maturity> <positionAssets>
  withdraw <market> <owner> <maturity> <positionAssets>
  treasury-withdraw <market> <recipient> <amount>

reporting:
  export <csv|jsonl> <market> [maturity...]

keys:
  generate-key`)
}
