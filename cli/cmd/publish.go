package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/cli/util"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/publish"
)

var (
	publishDryRun    bool
	publishOverwrite bool
	publishBuild     bool
	logoutYes        bool

	// prompter and keychain are replaced in tests
	prompter = util.NewPrompter()
	keychain = publish.NewKeychainStore()
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the last build",
	Long: `Upload every file listed in the build manifest, followed by the manifest
itself, under <publish.prefix>/<version>/.

A version that is already published is not replaced unless --overwrite is set.

Examples:
  fluxpack publish --dry-run
  fluxpack publish --build
  fluxpack publish --overwrite`,
	RunE: runPublish,
}

var publishLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the S3 secret key in the system keychain",
	Long: `Prompt for the secret key of publish.s3_access_key and store it in the
system keychain. Set publish.credential_store to keychain to use it.

Examples:
  fluxpack publish login`,
	RunE: runPublishLogin,
}

var publishLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the S3 secret key from the system keychain",
	RunE:  runPublishLogout,
}

func init() {
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "list the uploads without performing them")
	publishCmd.Flags().BoolVar(&publishOverwrite, "overwrite", false, "replace an existing release of this version")
	publishCmd.Flags().BoolVar(&publishBuild, "build", false, "build before publishing")
	publishLogoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "do not ask for confirmation")

	publishCmd.AddCommand(publishLoginCmd)
	publishCmd.AddCommand(publishLogoutCmd)
}

type publishResult struct {
	publish.Result `yaml:",inline"`
}

func (r publishResult) Table() output.TableData {
	data := output.TableData{Headers: []string{"FILE", "KEY", "SIZE", "CONTENT TYPE", "ENCODING"}}
	for _, u := range r.Uploads {
		data.Rows = append(data.Rows, []string{
			u.File,
			u.Key,
			util.FormatBytes(u.Size),
			u.ContentType,
			u.ContentEncoding,
		})
	}
	return data
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	store, err := publish.OpenStorage(cfg.Publish, cfg.ProjectDir, keychain)
	if err != nil {
		return err
	}

	var result *publish.Result
	err = withTelemetry(cmd.Context(), cfg, "fluxpack.publish", func(ctx context.Context, metrics *observability.Metrics) error {
		var m *manifest.Manifest
		var err error
		if publishBuild {
			m, err = buildProject(ctx, cfg, metrics)
		} else {
			m, err = manifest.Read(cfg.OutputDir())
		}
		if err != nil {
			return err
		}

		if !publishDryRun {
			if err := store.Health(ctx); err != nil {
				return fmt.Errorf("%s storage is not reachable: %w", store.Name(), err)
			}
		}

		publisher := publish.NewPublisher(store, publish.Options{
			Bucket:       cfg.Publish.Bucket,
			Prefix:       cfg.Publish.Prefix,
			CacheControl: cfg.Publish.CacheControl,
			RateLimit:    cfg.Publish.RateLimit,
			Overwrite:    publishOverwrite,
			DryRun:       publishDryRun,
		}, metrics)

		log.Debug().
			Str("provider", store.Name()).
			Str("bucket", cfg.Publish.Bucket).
			Str("prefix", publisher.ReleasePrefix(m)).
			Msg("Publishing")

		result, err = publisher.Publish(ctx, cfg.OutputDir(), m)
		return err
	})
	if errors.Is(err, publish.ErrAlreadyPublished) {
		return fmt.Errorf("%w (use --overwrite to replace it)", err)
	}
	if err != nil {
		return err
	}

	if err := formatter.Print(publishResult{*result}); err != nil {
		return err
	}

	verb := "Published"
	if result.DryRun {
		verb = "Would publish"
	}
	formatter.PrintSuccess(fmt.Sprintf("%s %d files (%s) to %s %s/%s",
		verb, len(result.Uploads), util.FormatBytes(result.Bytes), result.Provider, result.Bucket, result.Prefix))
	return nil
}

// s3Account validates that cfg publishes to S3 and returns endpoint and access key
func s3Account(cfg *config.Config) (string, string, error) {
	if cfg.Publish.Provider != "s3" {
		return "", "", fmt.Errorf("publish.provider is %q; keychain credentials are only used for s3", cfg.Publish.Provider)
	}
	return cfg.Publish.S3Endpoint, cfg.Publish.S3AccessKey, nil
}

func runPublishLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	endpoint, accessKey, err := s3Account(cfg)
	if err != nil {
		return err
	}

	secret, err := prompter.ReadPassword(fmt.Sprintf("Secret key for %s at %s: ", util.MaskToken(accessKey), endpoint))
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("secret key cannot be empty")
	}

	if err := keychain.SaveSecret(endpoint, accessKey, secret); err != nil {
		return err
	}

	formatter.PrintSuccess(fmt.Sprintf("Secret key for %s stored in the system keychain", util.MaskToken(accessKey)))
	if cfg.Publish.CredentialStore != "keychain" {
		formatter.PrintWarning("set publish.credential_store to keychain to use it")
	}
	return nil
}

func runPublishLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	endpoint, accessKey, err := s3Account(cfg)
	if err != nil {
		return err
	}

	if !logoutYes {
		ok, err := prompter.Confirm(fmt.Sprintf("Remove the secret key for %s from the keychain?", util.MaskToken(accessKey)), false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := keychain.DeleteSecret(endpoint, accessKey); err != nil {
		return err
	}
	formatter.PrintSuccess("Secret key removed from the system keychain")
	return nil
}
