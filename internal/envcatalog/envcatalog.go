// Package envcatalog lists the environment variables devenv reads.
package envcatalog

type VarInfo struct {
	Category    string
	Name        string
	Description string
	Dynamic     bool
	Internal    bool
	// Secret values are masked when displayed.
	Secret bool
}

func Catalog() []VarInfo {
	return []VarInfo{
		{
			Category:    "Config",
			Name:        "DEVENV_CONFIG",
			Description: "Path to the devenv config file.",
		},
		{
			Category:    "Config",
			Name:        "DEVENV_<FLAG>",
			Dynamic:     true,
			Description: "Set any devenv CLI flag via environment (hyphens become underscores). Example: DEVENV_POLL_INTERVAL=30s.",
		},
		{
			Category:    "Output",
			Name:        "NO_COLOR",
			Description: "Disable ANSI color output (any non-empty value).",
		},
		{
			Category:    "CLI",
			Name:        "DEVENV_YES",
			Description: "Auto-approve confirmations (equivalent to passing --yes).",
		},
		{
			Category:    "AWS",
			Name:        "AWS_PROFILE",
			Description: "Shared config profile used when --profile is not set.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_REGION",
			Description: "Region used when --region is not set.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_DEFAULT_REGION",
			Description: "Fallback region read by the AWS shared config loader.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_ACCESS_KEY_ID",
			Description: "Static access key; prefer profiles or SSO sessions.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_SECRET_ACCESS_KEY",
			Description: "Static secret key paired with AWS_ACCESS_KEY_ID.",
			Secret:      true,
		},
		{
			Category:    "AWS",
			Name:        "AWS_SESSION_TOKEN",
			Description: "Session token for temporary credentials.",
			Secret:      true,
		},
		{
			Category:    "Config",
			Name:        "XDG_CONFIG_HOME",
			Description: "Base directory searched for devenv/config.yaml.",
			Internal:    true,
		},
	}
}
