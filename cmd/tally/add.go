package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/dates"
	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "entry",
	Short:   "Record a transaction",
	Long: `Record an income or expense.

When the remote service is reachable the transaction is created there
directly. Otherwise it is saved to the offline queue and sent later.

Dates accept YYYY-MM-DD or natural language ("yesterday", "last friday").
On a terminal, missing fields are asked for interactively.

Examples:
  tally add --type expense --amount 12.50 --description Lunch --category Food
  tally add -t income -a 2500 -d Salary -c Work --date "last friday"`,
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("type")
		amount, _ := cmd.Flags().GetString("amount")
		description, _ := cmd.Flags().GetString("description")
		category, _ := cmd.Flags().GetString("category")
		icon, _ := cmd.Flags().GetString("icon")
		date, _ := cmd.Flags().GetString("date")
		notes, _ := cmd.Flags().GetString("notes")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		if (amount == "" || description == "" || category == "") && ui.IsInteractive() {
			if err := promptTransaction(&kind, &amount, &description, &category, &date); err != nil {
				fatalf("%v", err)
			}
		}

		p, err := buildPayload(kind, amount, description, category, date, time.Now())
		if err != nil {
			fatalf("%v", err)
		}
		p.CategoryIcon = icon
		p.Notes = notes
		p.TagIDs = tags

		ctx := cmd.Context()
		a := newApp(ctx)
		defer a.Close()

		res, err := a.entry.Create(ctx, p)
		if err != nil {
			if errors.Is(err, entry.ErrOfflineUnsupported) {
				fatalf("you are offline and this device cannot store transactions locally")
			}
			fatalf("%v", err)
		}

		if jsonOutput {
			printJSON(res)
			return
		}
		if res.Offline {
			fmt.Printf("%s Saved offline as %s, will sync when back online\n", ui.RenderWarn("⏸"), res.ID)
			return
		}
		fmt.Printf("%s Created transaction %s\n", ui.RenderPass("✓"), res.ID)
	},
}

// buildPayload parses the flag values into a payload. Validation of the
// remaining rules happens in the entry service.
func buildPayload(kind, amount, description, category, date string, now time.Time) (schema.Payload, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return schema.Payload{}, fmt.Errorf("invalid amount %q", amount)
	}
	day, err := dates.Parse(date, now)
	if err != nil {
		return schema.Payload{}, err
	}
	return schema.Payload{
		Kind:        schema.Kind(strings.ToLower(strings.TrimSpace(kind))),
		Amount:      amt,
		Description: description,
		Category:    category,
		OccurredAt:  day,
	}, nil
}

func promptTransaction(kind, amount, description, category, date *string) error {
	if *kind == "" {
		*kind = string(schema.KindExpense)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Type").
				Options(
					huh.NewOption("Expense", string(schema.KindExpense)),
					huh.NewOption("Income", string(schema.KindIncome)),
				).
				Value(kind),
			huh.NewInput().
				Title("Amount").
				Value(amount).
				Validate(func(s string) error {
					d, err := decimal.NewFromString(strings.TrimSpace(s))
					if err != nil || d.IsNegative() {
						return errors.New("enter a non-negative number")
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Value(description).
				Validate(required("description")),
			huh.NewInput().
				Title("Category").
				Value(category).
				Validate(required("category")),
			huh.NewInput().
				Title("Date").
				Placeholder("today").
				Value(date).
				Validate(func(s string) error {
					_, err := dates.Parse(s, time.Now())
					return err
				}),
		),
	)
	return form.Run()
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func init() {
	addCmd.Flags().StringP("type", "t", "expense", "Transaction type (income or expense)")
	addCmd.Flags().StringP("amount", "a", "", "Amount")
	addCmd.Flags().StringP("description", "d", "", "Description")
	addCmd.Flags().StringP("category", "c", "", "Category")
	addCmd.Flags().String("icon", "", "Category icon")
	addCmd.Flags().String("date", "", "Date (default today)")
	addCmd.Flags().StringP("notes", "n", "", "Notes")
	addCmd.Flags().StringSlice("tag", nil, "Tag ID (repeatable)")

	rootCmd.AddCommand(addCmd)
}
