package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kapnodes/kapimage/pkg/models"
	"github.com/spf13/cobra"
)

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload an image to a running kapimage service",
	Long: `Upload an image through the deduplicating upload route.

With the default no_overwrite policy an identical file that already exists
under the same name or its latest "name (N).ext" rename is reused instead
of being stored again.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().String("overwrite", string(models.PolicyNoOverwrite), "overwrite policy (no_overwrite, input_filename, last_rename)")
	uploadCmd.Flags().String("type", string(models.StorageInput), "storage root (input, output, temp)")
	uploadCmd.Flags().String("subfolder", "", "subfolder inside the storage root")
	uploadCmd.Flags().String("server", "", "service base URL (default http://<server.listen>)")
}

func serverURL(cmd *cobra.Command) (string, error) {
	if u, _ := cmd.Flags().GetString("server"); u != "" {
		return strings.TrimRight(u, "/"), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Server.Listen, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

func runUpload(cmd *cobra.Command, args []string) error {
	base, err := serverURL(cmd)
	if err != nil {
		return err
	}
	overwrite, _ := cmd.Flags().GetString("overwrite")
	storageType, _ := cmd.Flags().GetString("type")
	subfolder, _ := cmd.Flags().GetString("subfolder")

	if _, err := models.ParseOverwritePolicy(overwrite); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(args[0]))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	for k, v := range map[string]string{"overwrite": overwrite, "type": storageType, "subfolder": subfolder} {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := httpClient().Post(base+"/kap/upload/image-dedup", mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload rejected: %s", resp.Status)
	}

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("✅ Stored as %s\n", result.Name)
	if result.Subfolder != "" {
		fmt.Printf("   subfolder: %s\n", result.Subfolder)
	}
	fmt.Printf("   type:      %s\n", result.Type)
	return nil
}
