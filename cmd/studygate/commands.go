package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/afadel/studygate/internal/api"
	"github.com/afadel/studygate/internal/config"
	"github.com/afadel/studygate/internal/extract"
	"github.com/afadel/studygate/internal/gateway"
	"github.com/afadel/studygate/internal/keypool"
	"github.com/afadel/studygate/internal/storage"
)

// openStore loads config and opens the credential database directly. The
// key management commands work offline, without a running server.
func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
}

var keysAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a provider API key to the pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		secret, _ := cmd.Flags().GetString("key")
		providerName, _ := cmd.Flags().GetString("provider")
		priority, _ := cmd.Flags().GetInt("priority")
		rpm, _ := cmd.Flags().GetInt("rpm")

		if secret == "" {
			return fmt.Errorf("--key is required")
		}
		if label == "" {
			return fmt.Errorf("--label is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.AddCredential(label, providerName, secret, priority, rpm)
		if err != nil {
			return fmt.Errorf("adding credential: %w", err)
		}
		printSuccess("added key %q (id %d)", label, id)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys and their health",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		health, err := keypool.New(store, keypool.Options{}).Health()
		if err != nil {
			return err
		}
		if len(health) == 0 {
			printWarning("no managed keys, add one with: studygate keys add")
			return nil
		}
		for _, k := range health {
			printStatus(fmt.Sprintf("%d %s", k.ID, k.Label),
				"%s (…%s) errors=%d requests=%d tokens=%d",
				k.Status, k.Hint, k.ErrorCount, k.TotalRequests, k.TotalTokens)
		}
		return nil
	},
}

var keysDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a key without deleting its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetCredentialStatus(id, storage.StatusDisabled); err != nil {
			return fmt.Errorf("disabling key: %w", err)
		}
		printSuccess("disabled key %d", id)
		return nil
	},
}

var keysEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Re-enable a disabled key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetCredentialStatus(id, storage.StatusActive); err != nil {
			return fmt.Errorf("enabling key: %w", err)
		}
		printSuccess("enabled key %d", id)
		return nil
	},
}

func init() {
	keysAddCmd.Flags().String("label", "", "name for the key")
	keysAddCmd.Flags().String("key", "", "the secret API key")
	keysAddCmd.Flags().String("provider", "gemini", "provider name")
	keysAddCmd.Flags().Int("priority", 1, "selection priority, lower first")
	keysAddCmd.Flags().Int("rpm", 0, "per-minute request budget, 0 uses the default")

	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysDisableCmd)
	keysCmd.AddCommand(keysEnableCmd)
}

// --- generation commands ---

// readSource resolves --file or --text into plain text. Files go through
// the extractor so PDFs work from the command line.
func readSource(cmd *cobra.Command) (string, string, error) {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")

	switch {
	case text != "":
		return text, "", nil
	case file != "":
		extracted, err := extract.Extract(file)
		if err != nil {
			return "", "", err
		}
		return extracted, file, nil
	default:
		return "", "", fmt.Errorf("one of --text or --file is required")
	}
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("text", "", "raw text input")
	cmd.Flags().String("file", "", "document to extract and use as input")
	cmd.Flags().String("user", "cli", "user id for quota accounting")
	cmd.Flags().String("notes", "", "extra guidance for the model")
	cmd.Flags().Int64("subject", 0, "subject id for artifact storage")
	cmd.Flags().Bool("save", false, "archive the output as an artifact")
}

func generateRequest(cmd *cobra.Command) (api.GenerateRequest, error) {
	text, doc, err := readSource(cmd)
	if err != nil {
		return api.GenerateRequest{}, err
	}
	user, _ := cmd.Flags().GetString("user")
	notes, _ := cmd.Flags().GetString("notes")
	subject, _ := cmd.Flags().GetInt64("subject")
	save, _ := cmd.Flags().GetBool("save")

	return api.GenerateRequest{
		UserID:    user,
		SubjectID: subject,
		Title:     doc,
		Text:      text,
		Notes:     notes,
		Save:      save,
	}, nil
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a document or text",
	Long: `Summarize a document or text.

Examples:
  studygate summarize --file lecture.pdf --max-words 300
  studygate summarize --text "..." --save --subject 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := generateRequest(cmd)
		if err != nil {
			return err
		}
		req.MaxWords, _ = cmd.Flags().GetInt("max-words")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/summaries", req)
		if err != nil {
			return err
		}
		var result struct {
			Summary      string `json:"summary"`
			ArtifactPath string `json:"artifact_path"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.Summary)
		if result.ArtifactPath != "" {
			printSuccess("archived at %s", result.ArtifactPath)
		}
		return nil
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Generate exam questions from a document or text",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := generateRequest(cmd)
		if err != nil {
			return err
		}
		mcq, _ := cmd.Flags().GetInt("mcq")
		tf, _ := cmd.Flags().GetInt("tf")
		sa, _ := cmd.Flags().GetInt("sa")
		score, _ := cmd.Flags().GetFloat64("score")
		req.Matrix = gateway.MatrixConfig{
			MultipleChoice: gateway.KindSpec{Count: mcq, Score: score},
			TrueFalse:      gateway.KindSpec{Count: tf, Score: score},
			ShortAnswer:    gateway.KindSpec{Count: sa, Score: score},
		}
		if req.Matrix.TotalQuestions() == 0 {
			return fmt.Errorf("request at least one question via --mcq, --tf, or --sa")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/questions", req)
		if err != nil {
			return err
		}
		var result struct {
			Questions    []gateway.Question `json:"questions"`
			ArtifactPath string             `json:"artifact_path"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(result.Questions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		if result.ArtifactPath != "" {
			printSuccess("archived at %s", result.ArtifactPath)
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question about a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := generateRequest(cmd)
		if err != nil {
			return err
		}
		req.Question, _ = cmd.Flags().GetString("question")
		if req.Question == "" {
			return fmt.Errorf("--question is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/chat", req)
		if err != nil {
			return err
		}
		var result struct {
			Answer string `json:"answer"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.Answer)
		return nil
	},
}

func init() {
	addSourceFlags(summarizeCmd)
	summarizeCmd.Flags().Int("max-words", 500, "word budget for the summary")

	addSourceFlags(questionsCmd)
	questionsCmd.Flags().Int("mcq", 0, "number of multiple-choice questions")
	questionsCmd.Flags().Int("tf", 0, "number of true/false questions")
	questionsCmd.Flags().Int("sa", 0, "number of short-answer questions")
	questionsCmd.Flags().Float64("score", 1, "points per question")

	addSourceFlags(askCmd)
	askCmd.Flags().String("question", "", "question to ask about the document")
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage <user>",
	Short: "Show a user's request history and remaining quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/usage/"+args[0])
		if err != nil {
			return err
		}
		var result struct {
			Remaining int                   `json:"remaining"`
			History   []storage.UsageRecord `json:"history"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Remaining < 0 {
			printStatus("remaining", "unlimited")
		} else {
			printStatus("remaining", "%d this hour", result.Remaining)
		}
		for _, r := range result.History {
			cached := ""
			if r.WasCached {
				cached = " (cached)"
			}
			outcome := "ok"
			if !r.Success {
				outcome = "failed: " + r.Error
			}
			fmt.Printf("  %s %s %s%s %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Operation, outcome, cached, r.Document)
		}
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs <id>",
	Short: "Show the status of a background generation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/jobs/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
