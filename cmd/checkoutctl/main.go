// checkoutctl is a CLI tool for driving checkout sessions by hand.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	checkoutctl create -cart TOKEN [-customer ID]
//	checkoutctl get -id <checkout-id>
//	checkoutctl address -id <checkout-id> [-email E] [-postcode P] ...
//	checkoutctl billing -id <checkout-id> (-same | -address1 A ...)
//	checkoutctl resolve -id <checkout-id>
//	checkoutctl ship -id <checkout-id> -method ID
//	checkoutctl coupon -id <checkout-id> (-code CODE | -remove)
//	checkoutctl pay -id <checkout-id> -method ID [-term credit]
//	checkoutctl notes -id <checkout-id> -text NOTE
//	checkoutctl advance -id <checkout-id>
//	checkoutctl edit -id <checkout-id>
//	checkoutctl commit -id <checkout-id> [-key KEY]
//	checkoutctl succeed -id <checkout-id> -intent PI
//	checkoutctl fail -id <checkout-id> [-message M]
//	checkoutctl recovery -id <checkout-id>
//
// Examples:
//
//	ID=$(checkoutctl create -server http://localhost:8080 -cart abc123 -q)
//	checkoutctl address -id $ID
//	checkoutctl resolve -id $ID
//	checkoutctl ship -id $ID -method flat_rate:1
//	checkoutctl advance -id $ID
//	checkoutctl pay -id $ID -method stripe -term credit
//	checkoutctl commit -id $ID
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
)

var client = &http.Client{Timeout: 30 * time.Second}

// clientVersion is sent in the Storefront-Client header.
const clientVersion = "1.0.0"

// Global flags (apply to all commands)
var (
	serverURL  string
	checkoutID string
	quiet      bool
	noColor    bool
	verbose    bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

// command is one subcommand. needsID commands require -id.
type command struct {
	usage   string
	needsID bool
	flags   func(fs *flag.FlagSet) func()
}

var commands = map[string]command{
	"create":   {"create -cart TOKEN [-customer ID]", false, createFlags},
	"get":      {"get -id <checkout-id>", true, getFlags},
	"address":  {"address -id <checkout-id> [address flags]", true, addressFlags},
	"billing":  {"billing -id <checkout-id> (-same | address flags)", true, billingFlags},
	"resolve":  {"resolve -id <checkout-id>", true, postFlags("/shipping/resolve", "Shipping resolved")},
	"ship":     {"ship -id <checkout-id> -method ID", true, shipFlags},
	"coupon":   {"coupon -id <checkout-id> (-code CODE | -remove)", true, couponFlags},
	"pay":      {"pay -id <checkout-id> -method ID [-title T] [-term immediate|credit]", true, payFlags},
	"notes":    {"notes -id <checkout-id> -text NOTE", true, notesFlags},
	"advance":  {"advance -id <checkout-id>", true, postFlags("/advance", "Moved to payment step")},
	"edit":     {"edit -id <checkout-id>", true, postFlags("/edit", "Back to information step")},
	"commit":   {"commit -id <checkout-id> [-key KEY]", true, commitFlags},
	"succeed":  {"succeed -id <checkout-id> -intent PI", true, succeedFlags},
	"fail":     {"fail -id <checkout-id> [-message M]", true, failFlags},
	"recovery": {"recovery -id <checkout-id>", true, recoveryFlags},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "-h" || name == "-help" || name == "--help" || name == "help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("CHECKOUT_SERVER", "http://localhost:8080"), "Checkout service base URL")
	fs.StringVar(&checkoutID, "id", "", "Checkout ID")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	run := cmd.flags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: checkoutctl %s [options]\n\nOptions:\n", cmd.usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if noColor {
		disableColors()
	}
	if cmd.needsID && checkoutID == "" {
		fs.Usage()
		os.Exit(1)
	}
	run()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `checkoutctl - checkout session tool

Usage:
  checkoutctl <command> [options]

Commands:
  create    Start a checkout for a cart
  get       Show current checkout state
  address   Set the shipping address
  billing   Set a billing address or reuse shipping
  resolve   Fetch shipping methods for the address
  ship      Select a shipping method
  coupon    Apply or remove a coupon
  pay       Select payment method and term
  notes     Set the order note
  advance   Move to the payment step
  edit      Return to the information step
  commit    Place the order
  succeed   Report a successful card payment
  fail      Report a failed card payment
  recovery  Show the pre-payment snapshot

Examples:
  # Create checkout and capture ID
  ID=$(checkoutctl create -cart abc123 -q)

  # Fill in address and pick shipping
  checkoutctl address -id "$ID"
  checkoutctl resolve -id "$ID"
  checkoutctl ship -id "$ID" -method flat_rate:1

  # Pay on invoice credit
  checkoutctl advance -id "$ID"
  checkoutctl pay -id "$ID" -method invoice -term credit
  checkoutctl commit -id "$ID"

Run 'checkoutctl <command> -h' for command-specific options.
`)
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func createFlags(fs *flag.FlagSet) func() {
	cart := fs.String("cart", "", "Cart token (required)")
	customer := fs.Int("customer", 0, "Customer ID for address prefill")
	return func() {
		if *cart == "" {
			fs.Usage()
			os.Exit(1)
		}
		body := map[string]interface{}{"cart_token": *cart}
		if *customer > 0 {
			body["customer_id"] = *customer
		}
		resp, err := doRequest("POST", "/checkout-sessions", body, nil)
		if err != nil {
			fatal("Failed to create checkout: %v", err)
		}
		id, _ := resp["id"].(string)
		if quiet {
			fmt.Println(id)
			return
		}
		printSuccess("Checkout created")
		fmt.Printf("  ID: %s%s%s\n", colorCyan, id, colorReset)
		printSummary(resp)
	}
}

func getFlags(fs *flag.FlagSet) func() {
	return func() {
		resp, err := doRequest("GET", sessionPath(""), nil, nil)
		if err != nil {
			fatal("Failed to get checkout: %v", err)
		}
		if quiet {
			step, _ := resp["step"].(string)
			fmt.Println(step)
			return
		}
		printSuccess("Checkout retrieved")
		printSummary(resp)
	}
}

// postFlags builds a body-less transition command.
func postFlags(suffix, done string) func(fs *flag.FlagSet) func() {
	return func(fs *flag.FlagSet) func() {
		return func() {
			update("POST", suffix, nil, done)
		}
	}
}

// =============================================================================
// INFORMATION STEP
// =============================================================================

// addressFields registers address flags with test defaults.
func addressFields(fs *flag.FlagSet) func() map[string]string {
	fields := []struct{ key, def, usage string }{
		{"first_name", "Test", "First name"},
		{"last_name", "Buyer", "Last name"},
		{"company", "Test Wholesale AB", "Company"},
		{"email", "buyer@example.com", "Email"},
		{"phone", "+46701234567", "Phone"},
		{"address_1", "Storgatan 1", "Street address"},
		{"city", "Stockholm", "City"},
		{"postcode", "111 22", "Postcode"},
		{"country", "SE", "Country code"},
	}
	values := make([]*string, len(fields))
	for i, f := range fields {
		values[i] = fs.String(strings.ReplaceAll(f.key, "_", ""), f.def, f.usage)
	}
	return func() map[string]string {
		out := make(map[string]string, len(fields))
		for i, f := range fields {
			out[f.key] = *values[i]
		}
		return out
	}
}

func addressFlags(fs *flag.FlagSet) func() {
	addr := addressFields(fs)
	return func() {
		update("PUT", "/shipping-address", addr(), "Shipping address set")
	}
}

func billingFlags(fs *flag.FlagSet) func() {
	same := fs.Bool("same", false, "Bill to the shipping address")
	addr := addressFields(fs)
	return func() {
		body := map[string]interface{}{"same_as_shipping": *same}
		if !*same {
			body["address"] = addr()
		}
		update("PUT", "/billing-address", body, "Billing address set")
	}
}

func shipFlags(fs *flag.FlagSet) func() {
	method := fs.String("method", "", "Shipping method ID, e.g. flat_rate:1 (required)")
	return func() {
		if *method == "" {
			fs.Usage()
			os.Exit(1)
		}
		update("PUT", "/shipping-method", map[string]string{"id": *method}, "Shipping method selected")
	}
}

// =============================================================================
// EITHER STEP
// =============================================================================

func couponFlags(fs *flag.FlagSet) func() {
	code := fs.String("code", "", "Coupon code")
	remove := fs.Bool("remove", false, "Remove the applied coupon")
	return func() {
		switch {
		case *remove:
			update("DELETE", "/coupon", nil, "Coupon removed")
		case *code != "":
			update("PUT", "/coupon", map[string]string{"code": *code}, "Coupon applied")
		default:
			fs.Usage()
			os.Exit(1)
		}
	}
}

func payFlags(fs *flag.FlagSet) func() {
	method := fs.String("method", "", "Payment method ID, e.g. stripe or invoice (required)")
	title := fs.String("title", "", "Payment method title")
	term := fs.String("term", "", "Payment term: immediate or credit")
	return func() {
		if *method == "" {
			fs.Usage()
			os.Exit(1)
		}
		body := map[string]string{"method": *method, "title": *title, "term": *term}
		update("PUT", "/payment", body, "Payment selected")
	}
}

func notesFlags(fs *flag.FlagSet) func() {
	text := fs.String("text", "", "Order note")
	return func() {
		update("PUT", "/notes", map[string]string{"notes": *text}, "Notes set")
	}
}

// =============================================================================
// COMMIT AND PAYMENT CALLBACKS
// =============================================================================

func commitFlags(fs *flag.FlagSet) func() {
	key := fs.String("key", "", "Idempotency key (random if not set)")
	return func() {
		if *key == "" {
			*key = uuid.NewString()
		}
		header, err := httpsfv.Marshal(httpsfv.NewItem(*key))
		if err != nil {
			fatal("Invalid idempotency key: %v", err)
		}

		resp, err := doRequest("POST", sessionPath("/commit"), nil, map[string]string{"Idempotency-Key": header})
		if err != nil {
			fatal("Failed to commit checkout: %v", err)
		}

		result, _ := resp["result"].(map[string]interface{})
		pathway, _ := result["pathway"].(string)
		if quiet {
			fmt.Println(pathway)
			if secret, ok := result["client_secret"].(string); ok {
				fmt.Println(secret)
			}
			return
		}

		if order, ok := result["order"].(map[string]interface{}); ok {
			printSuccess("Order placed (%s)", pathway)
			fmt.Printf("  Order: %s%v%s (%v)\n", colorGreen, order["number"], colorReset, order["status"])
			return
		}
		printWarning("Awaiting card payment")
		fmt.Printf("  Payment intent: %s%v%s\n", colorBlue, result["payment_intent_id"], colorReset)
		fmt.Printf("  Amount: %v %v\n", result["amount_minor"], result["currency"])
		printInfo("Confirm with: checkoutctl succeed -id %s -intent %v", checkoutID, result["payment_intent_id"])
	}
}

func succeedFlags(fs *flag.FlagSet) func() {
	intent := fs.String("intent", "", "Payment intent ID (required)")
	return func() {
		if *intent == "" {
			fs.Usage()
			os.Exit(1)
		}
		update("POST", "/payment/succeeded", map[string]string{"payment_intent_id": *intent}, "Payment recorded")
	}
}

func failFlags(fs *flag.FlagSet) func() {
	message := fs.String("message", "payment declined", "Failure message shown to the buyer")
	return func() {
		update("POST", "/payment/failed", map[string]string{"message": *message}, "Payment failure recorded")
	}
}

func recoveryFlags(fs *flag.FlagSet) func() {
	return func() {
		resp, err := doRequest("GET", sessionPath("/recovery"), nil, nil)
		if err != nil {
			fatal("Failed to get recovery snapshot: %v", err)
		}
		if quiet {
			intent, _ := resp["payment_intent_id"].(string)
			fmt.Println(intent)
			return
		}
		printSuccess("Recovery snapshot found")
		fmt.Printf("  Payment intent: %s%v%s\n", colorBlue, resp["payment_intent_id"], colorReset)
		fmt.Printf("  Amount: %v %v\n", resp["amount_minor"], resp["currency"])
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func sessionPath(suffix string) string {
	return "/checkout-sessions/" + url.PathEscape(checkoutID) + suffix
}

// update sends a session mutation and prints the resulting view.
func update(method, suffix string, body interface{}, done string) {
	resp, err := doRequest(method, sessionPath(suffix), body, nil)
	if err != nil {
		fatal("%s failed: %v", strings.TrimPrefix(suffix, "/"), err)
	}
	if quiet {
		step, _ := resp["step"].(string)
		fmt.Println(step)
		return
	}
	printSuccess("%s", done)
	printSummary(resp)
}

func doRequest(method, path string, body interface{}, headers map[string]string) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Storefront-Client", clientHeader())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorText(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// clientHeader encodes the Storefront-Client dictionary.
func clientHeader() string {
	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem("checkoutctl"))
	dict.Add("version", httpsfv.NewItem(clientVersion))
	s, err := httpsfv.Marshal(dict)
	if err != nil {
		return fmt.Sprintf(`version="%s"`, clientVersion)
	}
	return s
}

// errorText pulls code and message out of an error body.
func errorText(body []byte) string {
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == "" {
		return string(body)
	}
	return resp.Error.Code + ": " + resp.Error.Message
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printSummary(resp map[string]interface{}) {
	if step, ok := resp["step"].(string); ok {
		fmt.Printf("  Step: %s%s%s\n", colorCyan, step, colorReset)
	}

	if methods, ok := resp["shipping_methods"].([]interface{}); ok && len(methods) > 0 {
		fmt.Printf("  %sShipping methods:%s\n", colorYellow, colorReset)
		for _, m := range methods {
			if mm, ok := m.(map[string]interface{}); ok {
				fmt.Printf("    - %s: %s (%v)\n", mm["id"], mm["label"], mm["total_cost"])
			}
		}
	}
	if sel, ok := resp["selected_shipping_method"].(map[string]interface{}); ok {
		fmt.Printf("  Selected: %v\n", sel["id"])
	}

	if pay, ok := resp["effective_payment"].(map[string]interface{}); ok && pay["pathway"] != "" {
		fmt.Printf("  Payment: %v (%v)\n", pay["title"], pay["pathway"])
	}

	if totals, ok := resp["totals"].(map[string]interface{}); ok {
		fmt.Printf("  Subtotal: %v  Shipping: %v  Discount: %v\n", totals["subtotal"], totals["shipping"], totals["discount"])
		fmt.Printf("  Payable: %s%v%s\n", colorGreen, totals["payable"], colorReset)
		if remaining, ok := totals["free_shipping_remaining"].(string); ok && remaining != "0" && remaining != "" {
			printInfo("%s more for free shipping", remaining)
		}
	}

	if fields, ok := resp["field_errors"].([]interface{}); ok {
		for _, f := range fields {
			if fm, ok := f.(map[string]interface{}); ok {
				printError("%v: %v", fm["field"], fm["message"])
			}
		}
	}
	if e, ok := resp["error"].(map[string]interface{}); ok {
		printError("%v: %v", e["code"], e["message"])
	}
	if order, ok := resp["order"].(map[string]interface{}); ok {
		printSuccess("Completed, order %v", order["number"])
	}
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if verbose {
		printJSON(body, "  ")
	}
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
