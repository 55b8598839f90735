package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Lllllllleong/drawingmigration/internal/api"
	"github.com/Lllllllleong/drawingmigration/internal/bootstrap"
	"github.com/Lllllllleong/drawingmigration/internal/services"
	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List the documents known to the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			names, err := engine.Repository.ListDocumentNames(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		})
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions <itemId>",
	Short: "Show an item's version history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			versions, err := engine.Repository.ListItemVersions(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, versions)
		})
	},
}

// searchCmd only needs the index, so it works without GCP credentials.
var searchCmd = &cobra.Command{
	Use:   "search <filter>",
	Short: "Run an exact-match filter against the search index",
	Example: `  drawingctl search 'drawingNumber = "A-1001" AND site = "North"'
  drawingctl search 'title = "Roof Plan"' --fields title,revision --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		index, err := bootstrap.NewIndex(cfg)
		if err != nil {
			return err
		}
		defer index.Close()

		fields, _ := cmd.Flags().GetStringSlice("fields")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.SearchRowLimit
		}
		rows, err := index.Search(cmd.Context(), args[0], fields, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, rows)
	},
}

var moderateCmd = &cobra.Command{
	Use:   "moderate <itemId>",
	Short: "Apply a moderation action to an item's latest version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		site, _ := cmd.Flags().GetString("site")
		actorName, _ := cmd.Flags().GetString("actor")
		role, _ := cmd.Flags().GetString("role")
		location, _ := cmd.Flags().GetString("location")
		folder, _ := cmd.Flags().GetString("folder")
		comment, _ := cmd.Flags().GetString("comment")
		reason, _ := cmd.Flags().GetString("reason")
		minor, _ := cmd.Flags().GetBool("minor")

		payload := services.ApprovalPayload{
			Actor:        services.Actor{Name: actorName},
			Comment:      comment,
			Reason:       reason,
			MinorVersion: minor,
		}
		if role != "" {
			payload.Actor.SiteRoles = map[string]services.SiteRole{site: services.SiteRole(role)}
		}
		ref := services.VersionRef{
			ItemID:          args[0],
			Site:            site,
			Location:        location,
			CanonicalFolder: splitSegments(folder),
		}

		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			versions, err := engine.Repository.ListItemVersions(ctx, ref.ItemID)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				return fmt.Errorf("item %s has no versions", ref.ItemID)
			}
			result, err := engine.Approvals.Transition(ctx, ref, versions[0].ModerationStatus, services.ApprovalAction(action), payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var folderCmd = &cobra.Command{
	Use:   "folder <path>",
	Short: "Create every missing folder along a slash-separated path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		autoApprove, _ := cmd.Flags().GetBool("auto-approve")
		segments := splitSegments(args[0])
		if len(segments) == 0 {
			return errors.New("folder path is empty")
		}
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			folder, err := engine.Mover.EnsureFolder(ctx, segments, autoApprove)
			if err != nil {
				return err
			}
			return printJSON(cmd, folder)
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <source> <destination>",
	Short: "Move an item between folders and wait for the copy job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			warnings, err := engine.Mover.Move(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, w := range warnings {
				slog.Warn("Copy job warning", "event", w.Event, "message", w.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s to %s\n", args[0], args[1])
			return nil
		})
	},
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect saved drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents with a saved draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			if engine.Drafts == nil {
				return errors.New("drafts are disabled: REDIS_URL is not set or unreachable")
			}
			names, err := engine.Drafts.List(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		})
	},
}

var draftsDeleteCmd = &cobra.Command{
	Use:   "delete <document>",
	Short: "Discard a document's saved draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, engine *bootstrap.Engine) error {
			if engine.Drafts == nil {
				return errors.New("drafts are disabled: REDIS_URL is not set or unreachable")
			}
			return engine.Drafts.Delete(ctx, args[0])
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the drawing API locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, err := bootstrap.New(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer engine.Close()

		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewServer(engine, slog.Default()).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			slog.Info("Drawing API listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func splitSegments(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func init() {
	searchCmd.Flags().StringSlice("fields", nil, "fields to return for each row")
	searchCmd.Flags().Int("limit", 0, "maximum rows (defaults to SEARCH_ROW_LIMIT)")

	moderateCmd.Flags().String("action", "", "request_approval, approve, reject or schedule")
	moderateCmd.Flags().String("site", "", "destination site")
	moderateCmd.Flags().String("actor", "", "acting user")
	moderateCmd.Flags().String("role", "", "actor's role on the site: viewer, member, approver or owner")
	moderateCmd.Flags().String("location", "", "item's current location, used for the canonical move")
	moderateCmd.Flags().String("folder", "", "canonical folder path, slash-separated")
	moderateCmd.Flags().String("comment", "", "comment recorded with the transition")
	moderateCmd.Flags().String("reason", "", "rejection reason")
	moderateCmd.Flags().Bool("minor", false, "request a minor version")
	_ = moderateCmd.MarkFlagRequired("action")

	folderCmd.Flags().Bool("auto-approve", false, "approve newly created folders")

	serveCmd.Flags().String("addr", ":8080", "listen address")

	draftsCmd.AddCommand(draftsListCmd, draftsDeleteCmd)
	rootCmd.AddCommand(documentsCmd, versionsCmd, searchCmd, moderateCmd, folderCmd, moveCmd, draftsCmd, serveCmd)
}
