package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/vidfrompdf/config"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := projectDirectoryChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	codecChecks(serverHandler.Engine)
	return nil
}

// codecChecks logs what the negotiator found so a missing GPU encoder is
// visible at startup rather than at the first render
func codecChecks(eng *Engine) {
	for _, profile := range eng.Profiles() {
		if profile.Available {
			Logger.Info("Codec profile available", "profile", profile.Name, "encoder", profile.Encoder, "rank", profile.Rank)
			continue
		}
		Logger.Info("Codec profile unavailable", "profile", profile.Name, "encoder", profile.Encoder, "reason", profile.Reason)
	}
	Logger.Info("Rasterization backend in use", "backend", eng.Backend())
}

// projectDirectoryChecks ensures the project storage directory exists
func projectDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.ProjectPath == "" {
		Logger.Error("Project path not configured")
		return fmt.Errorf("project path not configured")
	}

	// Check if directory exists
	projectInfo, err := os.Stat(serverConfig.ProjectPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating project directory", "path", serverConfig.ProjectPath)
			err = os.MkdirAll(serverConfig.ProjectPath, 0755)
			if err != nil {
				Logger.Error("Failed to create project directory", "path", serverConfig.ProjectPath, "error", err)
				return err
			}
			Logger.Info("Project directory created successfully", "path", serverConfig.ProjectPath)
			return nil
		}
		Logger.Error("Error checking project directory", "path", serverConfig.ProjectPath, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !projectInfo.IsDir() {
		Logger.Error("Project path exists but is not a directory", "path", serverConfig.ProjectPath)
		return fmt.Errorf("project path is not a directory: %s", serverConfig.ProjectPath)
	}

	Logger.Info("Project directory exists", "path", serverConfig.ProjectPath)
	return nil
}
