package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/redemption"
)

const stampLayout = "2006-01-02 15:04"

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired earned point entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			removed, err := a.Ledger.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
			return nil
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry entitlement for paid orders that were never entitled",
		Long:  "Without --order, retries every unentitled paid order that is not parked. With --order, retries that one order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			if orderID != "" {
				res, err := a.Settlement.ReconcileOrder(cmd.Context(), orderID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s: %s, entitled: %t\n", res.OrderID, res.Status, res.Entitled)
				return nil
			}

			report, err := a.Settlement.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned: %d  Entitled: %d  Failed: %d  Parked: %d\n",
				report.Scanned, report.Entitled, report.Failed, report.Parked)
			if report.Failed > 0 {
				return fmt.Errorf("%d orders still need attention", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Retry a single order by id")
	return cmd
}

func newCodesCommand(ctx *commandContext) *cobra.Command {
	codesCmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage redemption codes",
	}
	codesCmd.AddCommand(newCodesGenerateCommand(ctx))
	codesCmd.AddCommand(newCodesShowCommand(ctx))
	return codesCmd
}

func newCodesGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		packageType string
		packageID   string
		count       int
		expiresIn   time.Duration
		adminID     uint
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate redemption codes for a package or plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			req := redemption.GenerateRequest{
				PackageType: models.PackageType(packageType),
				PackageID:   packageID,
				Count:       count,
				CreatedBy:   adminID,
			}
			if expiresIn > 0 {
				at := time.Now().UTC().Add(expiresIn)
				req.ExpiresAt = &at
			}
			codes, err := a.Redemption.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(codes))
			for _, c := range codes {
				expires := "never"
				if c.ExpiresAt != nil {
					expires = c.ExpiresAt.Format(stampLayout)
				}
				rows = append(rows, []string{c.Code, string(c.PackageType), c.PackageID, expires})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Code", "Type", "Package", "Expires"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&packageType, "type", string(models.PackagePoints), "points_package or subscription_plan")
	cmd.Flags().StringVar(&packageID, "package", "", "Catalog id of the package or plan")
	cmd.Flags().IntVar(&count, "count", 1, "Number of codes")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Validity, e.g. 720h; zero means no expiry")
	cmd.Flags().UintVar(&adminID, "admin", 0, "Id of the issuing administrator")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}

func newCodesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show a redemption code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			c, err := a.Redemption.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			redeemed := "no"
			if c.IsRedeemed && c.RedeemedBy != nil && c.RedeemedAt != nil {
				redeemed = fmt.Sprintf("by %d at %s from %s", *c.RedeemedBy, c.RedeemedAt.Format(stampLayout), c.RedeemedIP)
			}
			rows := [][]string{
				{"Code", c.Code},
				{"Package", fmt.Sprintf("%s %s", c.PackageType, c.PackageID)},
				{"Redeemed", redeemed},
				{"Created", c.CreatedAt.Format(stampLayout)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}

func newBalanceCommand(ctx *commandContext) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "balance <userID>",
		Short: "Show a user's balance and recent entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			balance, err := a.Ledger.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User %d balance: %d\n", userID, balance)
			if history <= 0 {
				return nil
			}

			entries, err := a.Ledger.History(cmd.Context(), userID, history)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				expires := ""
				if e.ExpiresAt != nil {
					expires = e.ExpiresAt.Format(stampLayout)
				}
				rows = append(rows, []string{
					e.EarnedAt.Format(stampLayout),
					string(e.Kind),
					strconv.FormatInt(e.Points, 10),
					expires,
					e.Description,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"When", "Kind", "Points", "Expires", "Description"}, rows, 3))
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 10, "Number of recent entries to list")
	return cmd
}

func newCompensateCommand(ctx *commandContext) *cobra.Command {
	var (
		points  int64
		plan    string
		reason  string
		adminID uint
	)
	cmd := &cobra.Command{
		Use:   "compensate <userID>",
		Short: "Grant points and/or a plan period outside any purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			ent, err := a.Granter.Compensate(cmd.Context(), entitlement.CompensationRequest{
				UserID:   userID,
				Points:   points,
				PlanType: models.PlanType(strings.ToLower(plan)),
				Reason:   reason,
				AdminID:  adminID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Granted to user %d: %s\n", userID, ent.Description)
			return nil
		},
	}
	cmd.Flags().Int64Var(&points, "points", 0, "Points to grant")
	cmd.Flags().StringVar(&plan, "plan", "", "Plan period to grant: monthly, quarterly or yearly")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the ledger entry")
	cmd.Flags().UintVar(&adminID, "admin", 0, "Id of the granting administrator")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newAdminCommand(ctx *commandContext) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "admin <userID>",
		Short: "Grant or revoke administrator rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Accounts.SetAdmin(cmd.Context(), userID, !revoke); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d admin=%t\n", userID, !revoke)
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove administrator rights")
	return cmd
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uint(id), nil
}
