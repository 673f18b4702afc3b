package config

import (
	"context"
	"os"

	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/flock/pkg/infra/github"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// GitHub holds GitHub configuration. Either a token or the three App settings
// must be provided.
type GitHub struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKey     string
	PrivateKeyFile string
	APIURL         string
}

// Flags returns CLI flags for GitHub configuration
func (c *GitHub) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "github-token",
			Usage:       "GitHub token used for API calls and git push",
			Destination: &c.Token,
			Sources:     cli.EnvVars("FLOCK_GITHUB_TOKEN", "GITHUB_TOKEN"),
		},
		&cli.Int64Flag{
			Name:        "github-app-id",
			Usage:       "GitHub App ID",
			Destination: &c.AppID,
			Sources:     cli.EnvVars("FLOCK_GITHUB_APP_ID"),
		},
		&cli.Int64Flag{
			Name:        "github-installation-id",
			Usage:       "GitHub App installation ID",
			Destination: &c.InstallationID,
			Sources:     cli.EnvVars("FLOCK_GITHUB_INSTALLATION_ID"),
		},
		&cli.StringFlag{
			Name:        "github-private-key",
			Usage:       "GitHub App private key (PEM)",
			Destination: &c.PrivateKey,
			Sources:     cli.EnvVars("FLOCK_GITHUB_PRIVATE_KEY"),
		},
		&cli.StringFlag{
			Name:        "github-private-key-file",
			Usage:       "Path to the GitHub App private key",
			Destination: &c.PrivateKeyFile,
			Sources:     cli.EnvVars("FLOCK_GITHUB_PRIVATE_KEY_FILE"),
		},
		&cli.StringFlag{
			Name:        "github-api-url",
			Usage:       "GitHub API base URL (for GitHub Enterprise Server)",
			Destination: &c.APIURL,
			Sources:     cli.EnvVars("FLOCK_GITHUB_API_URL"),
		},
	}
}

func (c *GitHub) useApp() bool {
	return c.AppID != 0 || c.InstallationID != 0 || c.PrivateKey != "" || c.PrivateKeyFile != ""
}

// NewClient creates the hosting client. Missing or inconsistent credentials are
// a fatal precondition failure.
func (c *GitHub) NewClient(ctx context.Context) (interfaces.HostingClient, error) {
	var opts []github.Option
	if c.APIURL != "" {
		opts = append(opts, github.WithBaseURL(c.APIURL))
	}

	if !c.useApp() {
		return github.NewTokenClient(ctx, c.Token, opts...)
	}

	key := []byte(c.PrivateKey)
	if c.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read GitHub App private key",
				goerr.T(types.ErrTagFatalPrecondition),
				goerr.V("path", c.PrivateKeyFile))
		}
		key = data
	}

	if c.AppID == 0 || c.InstallationID == 0 || len(key) == 0 {
		return nil, goerr.New("GitHub App authentication needs app ID, installation ID and private key",
			goerr.T(types.ErrTagAuthenticationFailed),
			goerr.T(types.ErrTagFatalPrecondition))
	}
	return github.NewClient(c.AppID, c.InstallationID, key, opts...)
}
