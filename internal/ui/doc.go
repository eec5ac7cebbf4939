// Package ui implements the `tasks watch` dashboard using bubbletea's Elm architecture.
//
// The dashboard polls the queue every interval and has two views:
//  1. [ListView] : queued and running tasks, newest update first
//  2. [DetailView] : one task with its owner, fields and a transfer progress bar
//
// The [Model] implements bubbletea's Init/Update/View pattern, receiving messages via the Msg union type.
// Polling is driven by tea.Tick; a fetch that fails keeps the last good listing and shows the error.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
