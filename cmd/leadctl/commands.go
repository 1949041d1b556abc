package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leadflow/backend/internal/api/handlers"
	"github.com/leadflow/backend/internal/discovery"
	"github.com/leadflow/backend/internal/drip"
	"github.com/leadflow/backend/internal/outcome"
	"github.com/leadflow/backend/internal/storage/models"
)

var (
	discoverZips     []string
	discoverType     string
	discoverCampaign string

	dripLeadIDs  []string
	dripCampaign string

	enrichRecordID string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search places in the given ZIP codes and store new leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := pipeline.Discovery.Discover(rootCtx, discovery.Request{
			ZipCodes:      discoverZips,
			BusinessType:  discoverType,
			CampaignRunID: discoverCampaign,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Advance the geo-sweep cursor by one batch of ZIP prefixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		var res *discovery.SweepResult
		err := pipeline.RunLocked(rootCtx, handlers.LockDiscoverySweep, func() error {
			var err error
			res, err = pipeline.Discovery.Sweep(rootCtx)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var newsroomCmd = &cobra.Command{
	Use:   "newsroom",
	Short: "Scan the newsroom for fiber launch articles and tag leads in announced ZIPs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.RunLocked(rootCtx, handlers.LockNewsroomScan, func() error {
			res, err := pipeline.Newsroom.Scan(rootCtx)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var dripCmd = &cobra.Command{
	Use:   "drip",
	Short: "Send the next drip email to eligible leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.RunLocked(rootCtx, handlers.LockDrip, func() error {
			res, err := pipeline.Drip.SendNextStep(rootCtx, drip.Request{
				LeadIDs:       dripLeadIDs,
				CampaignRunID: dripCampaign,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var autodialCmd = &cobra.Command{
	Use:   "autodial",
	Short: "Call eligible leads inside their local calling hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.RunLocked(rootCtx, handlers.LockDialerSweep, func() error {
			res, err := pipeline.Dialer.Sweep(rootCtx)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call <lead-id>",
	Short: "Place one agent call to a lead now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := pipeline.Dialer.CallLead(rootCtx, args[0])
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <conversation-id>",
	Short: "Fetch a finished conversation and store its transcript and summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := pipeline.Recorder.Enrich(rootCtx, outcome.EnrichRequest{
			CallRecordID:   enrichRecordID,
			ConversationID: args[0],
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var leadCmd = &cobra.Command{
	Use:   "lead <lead-id>",
	Short: "Show a lead with its calls and status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := pipeline.Store
		lead, err := store.GetLead(rootCtx, args[0])
		if err != nil {
			return err
		}
		calls, err := store.ListCallsForLead(rootCtx, lead.ID)
		if err != nil {
			return err
		}
		history, err := store.StatusHistory(rootCtx, lead.ID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"lead":    lead,
			"calls":   calls,
			"history": history,
		})
	},
}

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaign runs",
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a campaign run to credit discovery and drip totals to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run := &models.CampaignRun{ID: uuid.NewString(), Name: args[0]}
		if err := pipeline.Store.CreateCampaignRun(rootCtx, run); err != nil {
			return err
		}
		return printJSON(run)
	},
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a campaign run's totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := pipeline.Store.GetCampaignRun(rootCtx, args[0])
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverZips, "zip", nil, "ZIP code to search (repeat or comma-separate)")
	discoverCmd.Flags().StringVar(&discoverType, "type", "", "Business category to search for (default discovery.defaultBusinessType)")
	discoverCmd.Flags().StringVar(&discoverCampaign, "run", "", "Campaign run id to credit")
	_ = discoverCmd.MarkFlagRequired("zip")

	dripCmd.Flags().StringSliceVar(&dripLeadIDs, "lead", nil, "Only these lead ids")
	dripCmd.Flags().StringVar(&dripCampaign, "run", "", "Campaign run id to credit and scope to")

	enrichCmd.Flags().StringVar(&enrichRecordID, "record", "", "Call record id, when known")

	campaignCmd.AddCommand(campaignCreateCmd, campaignShowCmd)
	rootCmd.AddCommand(discoverCmd, sweepCmd, newsroomCmd, dripCmd, autodialCmd, callCmd, enrichCmd, leadCmd, campaignCmd)
}
