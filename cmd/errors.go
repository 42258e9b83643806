package cmd

import (
	stderrors "errors"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/logger"
)

var hints = map[errors.Code][]string{
	errors.CodePermissionDenied: {
		"   • Check the username and that your key is loaded (--identity or ssh-agent)",
		"   • A changed host key means the server was reinstalled or someone is in between; verify before editing known_hosts",
		"   • For a brand new server you can pass --insecure once",
	},
	errors.CodeNetworkError: {
		"   • Check the server IP and that sshd listens on --port",
		"   • Firewalls often drop port 22 from unknown networks",
	},
	errors.CodeNetworkTimeout: {
		"   • The server did not answer in time; raise POPUTCHIK_DIAL_TIMEOUT or check connectivity",
	},
	errors.CodeTransferFailed: {
		"   • The archive is still on disk; fix the problem and run upload again",
		"   • Make sure the remote path exists and is writable by the user",
	},
	errors.CodeDockerfileSyntaxError: {
		"   • Fix the Dockerfile or regenerate it with 'poputchik-deploy dockerfile --force'",
	},
	errors.CodeImageBuildFailed: {
		"   • Run the printed docker build command by hand to see the full log",
	},
	errors.CodeConfigurationInvalid: {
		"   • Check the YAML config, .deploy.env and POPUTCHIK_* variables",
	},
}

// printErrorHelp logs err and the troubleshooting hints for its code.
func printErrorHelp(err error) {
	var rich *errors.Rich
	if !stderrors.As(err, &rich) {
		logger.Errorf("Error: %v", err)
		return
	}
	if rich.Code == errors.CodeCancelled {
		logger.Error("Cancelled")
		return
	}
	logger.Errorf("Error: %v", err)
	if lines, ok := hints[rich.Code]; ok {
		logger.Error("💡 Troubleshooting:")
		for _, line := range lines {
			logger.Error(line)
		}
	}
}
