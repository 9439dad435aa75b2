// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package obs

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// mediaActionRestart restarts a media input from the beginning.
const mediaActionRestart = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART"

// SwitchScene makes the named scene the program scene.
func (c *Client) SwitchScene(ctx context.Context, scene string) error {
	_, err := c.Call(ctx, "SetCurrentProgramScene", map[string]any{
		"sceneName": scene,
	})
	return err
}

// SetSourceVisible shows or hides a source. With an empty scene the
// current program scene is used.
func (c *Client) SetSourceVisible(ctx context.Context, scene, source string, visible bool) error {
	scene, itemID, err := c.resolveSceneItem(ctx, scene, source)
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": visible,
	})
	return err
}

// ToggleSource flips a source's visibility.
func (c *Client) ToggleSource(ctx context.Context, scene, source string) error {
	scene, itemID, err := c.resolveSceneItem(ctx, scene, source)
	if err != nil {
		return err
	}

	raw, err := c.Call(ctx, "GetSceneItemEnabled", map[string]any{
		"sceneName":   scene,
		"sceneItemId": itemID,
	})
	if err != nil {
		return err
	}
	var state struct {
		SceneItemEnabled bool `json:"sceneItemEnabled"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode scene item state: %w", err)
	}

	_, err = c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": !state.SceneItemEnabled,
	})
	return err
}

// ToggleFilter flips a filter's enabled state on a source.
func (c *Client) ToggleFilter(ctx context.Context, source, filter string) error {
	raw, err := c.Call(ctx, "GetSourceFilter", map[string]any{
		"sourceName": source,
		"filterName": filter,
	})
	if err != nil {
		return err
	}
	var state struct {
		FilterEnabled bool `json:"filterEnabled"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("decode filter state: %w", err)
	}

	_, err = c.Call(ctx, "SetSourceFilterEnabled", map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": !state.FilterEnabled,
	})
	return err
}

// PlayMedia restarts a media input from the beginning.
func (c *Client) PlayMedia(ctx context.Context, input string) error {
	_, err := c.Call(ctx, "TriggerMediaInputAction", map[string]any{
		"inputName":   input,
		"mediaAction": mediaActionRestart,
	})
	return err
}

// resolveSceneItem fills in the current program scene when none is given
// and resolves the source's scene item id within it.
func (c *Client) resolveSceneItem(ctx context.Context, scene, source string) (string, int64, error) {
	if scene == "" {
		raw, err := c.Call(ctx, "GetCurrentProgramScene", nil)
		if err != nil {
			return "", 0, err
		}
		var current struct {
			CurrentProgramSceneName string `json:"currentProgramSceneName"`
		}
		if err := json.Unmarshal(raw, &current); err != nil {
			return "", 0, fmt.Errorf("decode current scene: %w", err)
		}
		scene = current.CurrentProgramSceneName
	}

	raw, err := c.Call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	})
	if err != nil {
		return "", 0, err
	}
	var item struct {
		SceneItemID int64 `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", 0, fmt.Errorf("decode scene item id: %w", err)
	}
	return scene, item.SceneItemID, nil
}

// Scene is one entry of the scene catalog.
type Scene struct {
	Name string `json:"name"`
}

// SceneItem is one source within a scene.
type SceneItem struct {
	ID      int64  `json:"id"`
	Source  string `json:"source"`
	Enabled bool   `json:"enabled"`
}

// Filter is one filter on a source.
type Filter struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// Scenes lists the compositor's scenes and the current program scene.
func (c *Client) Scenes(ctx context.Context) ([]Scene, string, error) {
	raw, err := c.Call(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, "", err
	}
	var resp struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
		Scenes                  []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, "", fmt.Errorf("decode scene list: %w", err)
	}
	scenes := make([]Scene, 0, len(resp.Scenes))
	for _, s := range resp.Scenes {
		scenes = append(scenes, Scene{Name: s.SceneName})
	}
	return scenes, resp.CurrentProgramSceneName, nil
}

// SceneItems lists the sources in a scene.
func (c *Client) SceneItems(ctx context.Context, scene string) ([]SceneItem, error) {
	raw, err := c.Call(ctx, "GetSceneItemList", map[string]any{
		"sceneName": scene,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		SceneItems []struct {
			SceneItemID      int64  `json:"sceneItemId"`
			SourceName       string `json:"sourceName"`
			SceneItemEnabled bool   `json:"sceneItemEnabled"`
		} `json:"sceneItems"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode scene item list: %w", err)
	}
	items := make([]SceneItem, 0, len(resp.SceneItems))
	for _, it := range resp.SceneItems {
		items = append(items, SceneItem{ID: it.SceneItemID, Source: it.SourceName, Enabled: it.SceneItemEnabled})
	}
	return items, nil
}

// Filters lists the filters on a source.
func (c *Client) Filters(ctx context.Context, source string) ([]Filter, error) {
	raw, err := c.Call(ctx, "GetSourceFilterList", map[string]any{
		"sourceName": source,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Filters []struct {
			FilterName    string `json:"filterName"`
			FilterKind    string `json:"filterKind"`
			FilterEnabled bool   `json:"filterEnabled"`
		} `json:"filters"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode filter list: %w", err)
	}
	filters := make([]Filter, 0, len(resp.Filters))
	for _, f := range resp.Filters {
		filters = append(filters, Filter{Name: f.FilterName, Kind: f.FilterKind, Enabled: f.FilterEnabled})
	}
	return filters, nil
}
