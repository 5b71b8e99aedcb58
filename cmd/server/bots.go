package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/placeholder"
	"github.com/prasenjit/go-apibot/internal/wizard"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headingColor = color.New(color.FgCyan, color.Bold)
	methodColor  = color.New(color.FgMagenta, color.Bold)
	dimColor     = color.New(color.Faint)
)

var (
	deviceFlag  int64
	messageFlag string
	yesFlag     bool
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "Manage API bot configurations from the command line",
}

var botsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configurations of a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevice(); err != nil {
			return err
		}
		c, err := openConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		configs, err := c.store.List(cmd.Context(), deviceFlag)
		if err != nil {
			return fmt.Errorf("list configurations: %s", client.Message(err))
		}
		printConfigs(cmd.OutOrStdout(), configs)
		return nil
	},
}

var botsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !yesFlag {
			in := bufio.NewReader(cmd.InOrStdin())
			ok, err := confirm(in, out, fmt.Sprintf("Delete configuration %d?", id), false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}

		c, err := openConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.store.Delete(cmd.Context(), id); err != nil {
			return fmt.Errorf("delete configuration: %s", client.Message(err))
		}
		successColor.Fprintf(out, "Deleted configuration %d\n", id)
		return nil
	},
}

var botsTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Run a configuration against a sample message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if strings.TrimSpace(messageFlag) == "" {
			return errors.New("--message is required")
		}

		c, err := openConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.store.Test(cmd.Context(), id, messageFlag)
		if err != nil {
			return fmt.Errorf("test configuration: %s", client.Message(err))
		}
		printTestResult(cmd.OutOrStdout(), result)
		return nil
	},
}

var botsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration with the interactive wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevice(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		form, err := runWizard(cmd.InOrStdin(), out, wizard.New(), deviceFlag)
		if err != nil {
			return err
		}
		if form == nil {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		req, err := wizard.ToCreateRequest(*form, deviceFlag)
		if err != nil {
			return err
		}

		c, err := openConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		created, err := c.store.Create(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("create configuration: %s", client.Message(err))
		}
		successColor.Fprintf(out, "Created configuration %d (%s)\n", created.ID, created.Name)
		return nil
	},
}

var botsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a configuration with the interactive wizard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := requireDevice(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		c, err := openConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.store.List(cmd.Context(), deviceFlag); err != nil {
			return fmt.Errorf("load configurations: %s", client.Message(err))
		}
		existing, ok := c.store.Snapshot().Find(id)
		if !ok {
			return fmt.Errorf("configuration %d not found for device %d", id, deviceFlag)
		}

		form, err := runWizard(cmd.InOrStdin(), out, wizard.NewFromConfig(existing), deviceFlag)
		if err != nil {
			return err
		}
		if form == nil {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		req, err := wizard.ToUpdateRequest(*form)
		if err != nil {
			return err
		}
		if _, err := c.store.Update(cmd.Context(), id, req); err != nil {
			return fmt.Errorf("update configuration: %s", client.Message(err))
		}
		successColor.Fprintf(out, "Updated configuration %d\n", id)
		return nil
	},
}

func init() {
	botsCmd.PersistentFlags().Int64VarP(&deviceFlag, "device", "d", 0, "device the configurations belong to")
	botsTestCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "sample inbound message")
	botsDeleteCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "skip the confirmation prompt")

	botsCmd.AddCommand(botsListCmd)
	botsCmd.AddCommand(botsDeleteCmd)
	botsCmd.AddCommand(botsTestCmd)
	botsCmd.AddCommand(botsCreateCmd)
	botsCmd.AddCommand(botsEditCmd)
}

func openConsole() (*console, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newConsole(cfg)
}

func requireDevice() error {
	if deviceFlag <= 0 {
		return errors.New("--device is required")
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid configuration id %q", s)
	}
	return id, nil
}

// printConfigs writes the configurations as a table
func printConfigs(out io.Writer, configs []models.BotConfig) {
	if len(configs) == 0 {
		dimColor.Fprintln(out, "No configurations.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tMETHOD\tENDPOINT\tACTIVE")
	for _, cfg := range configs {
		active := "no"
		if cfg.IsActive {
			active = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			cfg.ID, cfg.Name, cfg.TriggerText, cfg.HTTPMethod, cfg.APIEndpoint, active)
	}
	w.Flush()
}

// printTestResult writes the outcome of a test run
func printTestResult(out io.Writer, result *models.TestResult) {
	if result == nil {
		dimColor.Fprintln(out, "No result.")
		return
	}
	if !result.Success {
		errorColor.Fprintln(out, "Test failed")
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return
	}

	successColor.Fprintln(out, "Test succeeded")
	if result.Response == nil {
		return
	}
	fmt.Fprintf(out, "  Reply: %s\n", result.Response.Reply)
	if result.Response.Media != "" {
		fmt.Fprintf(out, "  Media: %s\n", result.Response.Media)
	}
}

// prompter reads answers line by line
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(label, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return current, nil
	}
	return line, nil
}

func (p *prompter) askBool(label string, current bool) (bool, error) {
	def := "y/N"
	if current {
		def = "Y/n"
	}
	answer, err := p.ask(fmt.Sprintf("%s (%s)", label, def), "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return current, nil
	case "y", "yes", "true":
		return true, nil
	}
	return false, nil
}

func confirm(in *bufio.Reader, out io.Writer, question string, def bool) (bool, error) {
	p := &prompter{in: in, out: out}
	return p.askBool(question, def)
}

// runWizard walks w through its steps on a terminal. It returns the saved
// buffer, or nil when the user declines to save on the review step.
func runWizard(in io.Reader, out io.Writer, w *wizard.Wizard, deviceID int64) (*models.FormData, error) {
	p := &prompter{in: bufio.NewReader(in), out: out}

	title := "New bot"
	if w.IsEdit() {
		title = fmt.Sprintf("Edit bot %d", *w.EditingID())
	}
	headingColor.Fprintln(out, title)

	for {
		step := w.Step()
		fmt.Fprintln(out)
		headingColor.Fprintf(out, "Step %d/%d: %s\n", int(step)+1, len(wizard.Steps()), step)

		if step == wizard.StepReview {
			printReview(out, w.Form(), deviceID)
			save, err := p.askBool("Save", true)
			if err != nil {
				return nil, err
			}
			if !save {
				back, err := p.askBool("Go back and change something", false)
				if err != nil {
					return nil, err
				}
				if back {
					w.Retreat()
					continue
				}
				return nil, nil
			}
			form, err := w.Save()
			if err != nil {
				printFieldErrors(out, w.Errors())
				retreatToInvalid(w)
				continue
			}
			return form, nil
		}

		if err := promptStep(p, w, step); err != nil {
			return nil, err
		}
		if !w.Advance() {
			printFieldErrors(out, w.Errors())
		}
	}
}

// retreatToInvalid steps back until it reaches a step that fails validation
func retreatToInvalid(w *wizard.Wizard) {
	form := w.Form()
	for w.Step() > wizard.StepBasicInfo {
		w.Retreat()
		if len(wizard.ValidateStep(w.Step(), &form)) > 0 {
			return
		}
	}
}

func promptStep(p *prompter, w *wizard.Wizard, step wizard.Step) error {
	form := w.Form()

	switch step {
	case wizard.StepBasicInfo:
		if err := askField(p, w, "Name", wizard.FieldName, form.Name); err != nil {
			return err
		}
		if err := askField(p, w, "Trigger text", wizard.FieldTriggerText, form.TriggerText); err != nil {
			return err
		}
		return askFlag(p, w, "Active", wizard.FieldIsActive, form.IsActive)

	case wizard.StepEndpoint:
		if err := askField(p, w, "API endpoint", wizard.FieldAPIEndpoint, form.APIEndpoint); err != nil {
			return err
		}
		for {
			label := fmt.Sprintf("HTTP method (%s)", strings.Join(models.ValidMethods(), ", "))
			value, err := p.ask(label, form.HTTPMethod)
			if err != nil {
				return err
			}
			if err := w.SetField(wizard.FieldHTTPMethod, value); err != nil {
				errorColor.Fprintln(p.out, err)
				continue
			}
			return nil
		}

	case wizard.StepAuthentication:
		if err := askFlag(p, w, "Use basic authentication", wizard.FieldBasicAuthEnabled, form.BasicAuth != nil); err != nil {
			return err
		}
		auth := w.Form().BasicAuth
		if auth == nil {
			return nil
		}
		if err := askField(p, w, "Username", wizard.FieldBasicAuthUsername, auth.Username); err != nil {
			return err
		}
		return askField(p, w, "Password", wizard.FieldBasicAuthPassword, auth.Password)

	case wizard.StepRequest:
		if err := askPairs(p, w, wizard.ListHeaders, "Headers"); err != nil {
			return err
		}
		if err := askPairs(p, w, wizard.ListCustomParams, "Custom parameters"); err != nil {
			return err
		}
		dimColor.Fprintf(p.out, "Placeholders: %s\n", strings.Join(placeholder.All(), " "))
		if err := askField(p, w, "Request body (JSON)", wizard.FieldRequestBody, form.RequestBody); err != nil {
			return err
		}
		if err := askFlag(p, w, "Include sender", wizard.FieldIncludeSender, form.IncludeSender); err != nil {
			return err
		}
		for {
			value, err := p.ask("Timeout (ms)", strconv.Itoa(form.Timeout))
			if err != nil {
				return err
			}
			if err := w.SetField(wizard.FieldTimeout, value); err != nil {
				errorColor.Fprintln(p.out, "Timeout must be a number")
				continue
			}
			return nil
		}
	}
	return nil
}

func askField(p *prompter, w *wizard.Wizard, label, field, current string) error {
	value, err := p.ask(label, current)
	if err != nil {
		return err
	}
	return w.SetField(field, value)
}

func askFlag(p *prompter, w *wizard.Wizard, label, field string, current bool) error {
	value, err := p.askBool(label, current)
	if err != nil {
		return err
	}
	return w.SetField(field, strconv.FormatBool(value))
}

// askPairs edits a key/value list. Lines of the form key=value add a row,
// -key removes the first row with that key, and an empty line finishes.
func askPairs(p *prompter, w *wizard.Wizard, list wizard.List, label string) error {
	fmt.Fprintf(p.out, "%s (key=value to add, -key to remove, empty line to finish)\n", label)
	for {
		for _, kv := range pairsOf(w.Form(), list) {
			dimColor.Fprintf(p.out, "  %s=%s\n", kv.Key, kv.Value)
		}
		line, err := p.ask(">", "")
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}

		if strings.HasPrefix(line, "-") {
			key := strings.TrimSpace(line[1:])
			for i, kv := range pairsOf(w.Form(), list) {
				if kv.Key == key {
					if err := w.RemovePair(list, i); err != nil {
						return err
					}
					break
				}
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			errorColor.Fprintln(p.out, "Expected key=value")
			continue
		}
		if err := w.AddPair(list); err != nil {
			return err
		}
		idx := len(pairsOf(w.Form(), list)) - 1
		if err := w.UpdatePair(list, idx, wizard.PartKey, strings.TrimSpace(key)); err != nil {
			return err
		}
		if err := w.UpdatePair(list, idx, wizard.PartValue, strings.TrimSpace(value)); err != nil {
			return err
		}
	}
}

func pairsOf(form models.FormData, list wizard.List) []models.KeyValue {
	if list == wizard.ListCustomParams {
		return form.CustomParams
	}
	return form.Headers
}

func printFieldErrors(out io.Writer, errs map[string]string) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		errorColor.Fprintf(out, "  %s: %s\n", k, errs[k])
	}
}

// printReview summarizes the buffer before it is saved
func printReview(out io.Writer, form models.FormData, deviceID int64) {
	active := "inactive"
	if form.IsActive {
		active = "active"
	}
	fmt.Fprintf(out, "  %s (%s), trigger %q\n", form.Name, active, form.TriggerText)
	fmt.Fprint(out, "  ")
	methodColor.Fprint(out, form.HTTPMethod)
	fmt.Fprintf(out, " %s\n", form.APIEndpoint)
	if form.BasicAuth != nil {
		fmt.Fprintf(out, "  Basic auth as %s\n", form.BasicAuth.Username)
	}
	printPairs(out, "Header", wizard.FoldPairs(form.Headers))
	printPairs(out, "Param", wizard.FoldPairs(form.CustomParams))
	fmt.Fprintf(out, "  Include sender: %t, timeout %dms\n", form.IncludeSender, form.Timeout)

	if form.RequestBody == "" {
		return
	}
	preview, err := placeholder.NewEngine().Preview(form.RequestBody, placeholder.Sample{
		Message:  "hello",
		Sender:   "+15550100",
		DeviceID: deviceID,
	})
	if err != nil {
		errorColor.Fprintf(out, "  Preview failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "  Body preview:")
	for _, line := range strings.Split(preview, "\n") {
		dimColor.Fprintf(out, "    %s\n", line)
	}
}

func printPairs(out io.Writer, label string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s %s: %s\n", label, k, m[k])
	}
}
