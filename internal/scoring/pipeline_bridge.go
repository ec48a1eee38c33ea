package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// BridgePipeline delegates transforms to an external interpreter process
// that can load artifacts this runtime cannot, such as pickled scikit
// pipelines. The process reads one JSON request on stdin and writes one
// JSON response on stdout.
type BridgePipeline struct {
	artifactPath string
	command      []string
}

type bridgeTransformRequest struct {
	ArtifactPath string      `json:"artifact_path"`
	Features     [][]float64 `json:"features"`
}

type bridgeTransformResponse struct {
	Predictions []string `json:"predictions"`
	Error       string   `json:"error,omitempty"`
}

type bridgeTransformFn func(
	ctx context.Context,
	command []string,
	request bridgeTransformRequest,
) ([]string, error)

var runBridgeTransform bridgeTransformFn = defaultRunBridgeTransform

func NewBridgePipeline(artifactPath string, rawCommand string) (*BridgePipeline, error) {
	resolvedPath, err := resolveArtifactPath(
		artifactPath,
		"SCORING_MODEL_PATH",
		"model artifact",
	)
	if err != nil {
		return nil, err
	}
	command, err := parseBridgeCommand(rawCommand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if len(command) == 0 {
		command, err = parseBridgeCommand(os.Getenv("SCORING_BRIDGE_CMD"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid SCORING_BRIDGE_CMD: %v", ErrModelLoad, err)
		}
	}
	if len(command) == 0 {
		return nil, fmt.Errorf(
			"%w: bridge command is not configured; set SCORING_BRIDGE_CMD",
			ErrModelLoad,
		)
	}
	return &BridgePipeline{
		artifactPath: resolvedPath,
		command:      command,
	}, nil
}

func (p *BridgePipeline) Name() string {
	return "process-bridge"
}

func (p *BridgePipeline) Transform(
	ctx context.Context,
	batch [][]float64,
) ([]string, error) {
	predictions, err := runBridgeTransform(ctx, p.command, bridgeTransformRequest{
		ArtifactPath: p.artifactPath,
		Features:     batch,
	})
	if err != nil {
		return nil, err
	}
	if len(predictions) != len(batch) {
		return nil, fmt.Errorf(
			"%w: bridge returned %d predictions for %d vectors",
			ErrTransform,
			len(predictions),
			len(batch),
		)
	}
	return predictions, nil
}

func (p *BridgePipeline) Close() error { return nil }

func parseBridgeCommand(raw string) ([]string, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, nil
	}
	parts := strings.Fields(clean)
	if len(parts) == 0 {
		return nil, fmt.Errorf("bridge command is empty")
	}
	return parts, nil
}

func defaultRunBridgeTransform(
	ctx context.Context,
	command []string,
	request bridgeTransformRequest,
) ([]string, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: bridge command is not configured", ErrTransform)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding bridge request: %v", ErrTransform, err)
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if runErr := cmd.Run(); runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			return nil, fmt.Errorf("%w: bridge command failed: %v", ErrTransform, runErr)
		}
		return nil, fmt.Errorf("%w: bridge command failed: %v: %s", ErrTransform, runErr, errText)
	}
	var decoded bridgeTransformResponse
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding bridge response: %v", ErrTransform, err)
	}
	if strings.TrimSpace(decoded.Error) != "" {
		return nil, fmt.Errorf(
			"%w: bridge runtime error: %s",
			ErrTransform,
			strings.TrimSpace(decoded.Error),
		)
	}
	return decoded.Predictions, nil
}
