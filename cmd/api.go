package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/regq/internal/catalogue"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/urfave/cli/v3"
)

func (r *Runner) httpCatalogue() (*catalogue.HTTPClient, error) {
	client, err := r.catalogue()
	if err != nil {
		return nil, err
	}
	hc, ok := client.(*catalogue.HTTPClient)
	if !ok {
		return nil, fmt.Errorf("%w: api commands need an http(s) catalogue, got %s", shared.ErrInvalidConfig, r.config.Catalogue.URL)
	}
	return hc, nil
}

func apiPath(cmd *cli.Command) (string, error) {
	path := cmd.StringArg("path")
	if path == "" {
		return "", fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}

// APIGet makes a direct GET request to the catalogue
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	return r.apiRequest(ctx, cmd, http.MethodGet, nil, !cmd.Bool("json"))
}

// APIPost makes a direct POST request with a JSON body
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	data := cmd.String("data")
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}

	var jsonTest map[string]any
	if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
		return fmt.Errorf("%w: data is not a JSON object: %v", shared.ErrInvalidInput, err)
	}

	return r.apiRequest(ctx, cmd, http.MethodPost, []byte(data), true)
}

// APIPatch sends a JSON Patch document
func (r *Runner) APIPatch(ctx context.Context, cmd *cli.Command) error {
	data := cmd.String("data")
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}

	var ops []map[string]any
	if err := json.Unmarshal([]byte(data), &ops); err != nil {
		return fmt.Errorf("%w: data is not a JSON Patch array: %v", shared.ErrInvalidInput, err)
	}

	return r.apiRequest(ctx, cmd, http.MethodPatch, []byte(data), true)
}

// APIDelete makes a direct DELETE request
func (r *Runner) APIDelete(ctx context.Context, cmd *cli.Command) error {
	return r.apiRequest(ctx, cmd, http.MethodDelete, nil, true)
}

func (r *Runner) apiRequest(ctx context.Context, cmd *cli.Command, method string, body []byte, pretty bool) error {
	path, err := apiPath(cmd)
	if err != nil {
		return err
	}
	client, err := r.httpCatalogue()
	if err != nil {
		return err
	}

	r.logger.Info(method+" request", "path", path)

	resp, err := client.Do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}

	if len(resp.Body) == 0 {
		return r.writePlain("%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}
