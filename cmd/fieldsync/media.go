package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/media"
)

func mediaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage locally stored photos",
	}
	cmd.AddCommand(
		mediaAddCmd(),
		mediaListCmd(),
		mediaDeleteCmd(),
		mediaUploadCmd(),
		mediaDownloadCmd(),
		mediaCleanupCmd(),
		mediaStatsCmd(),
	)
	return cmd
}

// parseOwnerArgs reads "<entity> <id>" positional arguments
func parseOwnerArgs(args []string) (media.Owner, error) {
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return media.Owner{}, fmt.Errorf("invalid entity id %q", args[1])
	}
	return media.ParseOwner(args[0], id)
}

func mediaAddCmd() *cobra.Command {
	var meta map[string]string
	cmd := &cobra.Command{
		Use:   "add <entity> <id> <path>",
		Short: "Store a photo for a record",
		Long:  `Copies an image into the media directory and queues it for upload. Entity is AssessmentItem, AssessmentMaster or Appointment.`,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			metadata := make(map[string]any, len(meta))
			for k, v := range meta {
				metadata[k] = v
			}
			rec, err := a.media.SavePhoto(ctx, args[2], owner, metadata)
			if err != nil {
				return err
			}
			fmt.Printf("Saved %s (id %d, %s)\n", rec.FileName, rec.MediaID, rec.FileType)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "extra metadata as key=value pairs")
	return cmd
}

func mediaListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list <entity> <id>",
		Short: "List photos stored for a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := a.media.GetPhotosForEntity(ctx, owner, includeDeleted)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Printf("No photos for %s\n", owner)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tTYPE\tSTATE\tUPLOADED")
			for _, f := range files {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.MediaID, f.FileName, f.FileType, mediaState(f), uploadedAt(f))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "include soft-deleted photos")
	return cmd
}

func mediaState(f *db.MediaFile) string {
	switch {
	case f.IsDeleted && f.PendingSync:
		return "deleted (pending)"
	case f.IsDeleted:
		return "deleted"
	case f.PendingSync:
		return "pending"
	}
	return "synced"
}

func uploadedAt(f *db.MediaFile) string {
	if f.UploadedAt == nil {
		return "-"
	}
	return humanize.Time(*f.UploadedAt)
}

func mediaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <media-id>",
		Short: "Mark a photo deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid media id %q", args[0])
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.media.DeletePhoto(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Photo %d marked deleted.\n", id)
			return nil
		},
	}
}

func mediaUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Upload every pending photo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if st := a.checker.Check(ctx); !st.Online() {
				fmt.Println("Currently offline, photos stay queued.")
				return nil
			}

			res, err := a.media.UploadPendingPhotos(ctx, media.UploadOptions{})
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %d, discarded %d deleted, %d failed.\n", res.Uploaded, res.Discarded, len(res.Errors))
			return res.Err()
		},
	}
}

func mediaDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <entity> <id>",
		Short: "Fetch a record's photos from the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwnerArgs(args)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := a.media.DownloadPhotosForEntity(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("%d photos available locally for %s\n", len(files), owner)
			return nil
		},
	}
}

func mediaCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old photo files that are not waiting for upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if days <= 0 {
				days = a.cfg.Media.CleanupDays
			}
			removed := a.media.CleanupOldFiles(ctx, days)
			fmt.Printf("Removed %d files older than %d days.\n", removed, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age threshold in days (default from config)")
	return cmd
}

func mediaStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show media directory usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.media.GetStorageStats()
			pending, err := a.media.PendingCount(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"dir":        a.media.Dir(),
					"files":      st.Files,
					"totalBytes": st.TotalBytes,
					"pending":    pending,
					"oldest":     st.Oldest,
					"newest":     st.Newest,
				})
			}

			fmt.Printf("Directory: %s\n", a.media.Dir())
			fmt.Printf("Files:     %d (%s)\n", st.Files, humanize.Bytes(uint64(st.TotalBytes)))
			fmt.Printf("Pending:   %d\n", pending)
			if st.Oldest != nil {
				fmt.Printf("Oldest:    %s\n", humanize.Time(*st.Oldest))
				fmt.Printf("Newest:    %s\n", humanize.Time(*st.Newest))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
