package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/M3-org/clanktank-sub000/internal/images"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// runUpload attaches a local image to a submission, bypassing the HTTP
// surface. Same validation and storage layout as the API upload, minus
// the ownership check since operators run this directly.
func runUpload(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("submission-id")
	if id == "" {
		return fmt.Errorf("--submission-id is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := resolveVersion(cmd, a.schemas)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sub, err := a.store.GetSubmission(ctx, version, id)
	if err != nil {
		return err
	}

	img, err := images.Process(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.cfg.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads directory: %w", err)
	}
	filename := unsafeNameChars.ReplaceAllString(sub.ID, "_") + ".jpg"
	path := filepath.Join(a.cfg.UploadsDir, filename)
	if err := os.WriteFile(path, img.JPEG, 0o644); err != nil {
		return fmt.Errorf("write upload: %w", err)
	}

	url := "/api/uploads/" + filename
	if err := a.store.UpdateSubmissionFields(ctx, version, sub.ID, map[string]string{"project_image": url}); err != nil {
		return err
	}
	a.store.Audit(ctx, "image_uploaded", sub.ID, "cli", map[string]interface{}{
		"filename": filename,
		"format":   img.SourceFormat,
		"width":    img.Width,
		"height":   img.Height,
	})

	fmt.Printf("✅ attached %s (%dx%d %s) as %s\n", args[0], img.Width, img.Height, img.SourceFormat, url)
	return nil
}
