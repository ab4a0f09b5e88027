package memoryclient

import (
	"context"
	"encoding/json"
	"time"
)

// Memory types accepted by the hosted service.
const (
	MemoryTypeContext      = "context"
	MemoryTypeProject      = "project"
	MemoryTypeKnowledge    = "knowledge"
	MemoryTypeReference    = "reference"
	MemoryTypePersonal     = "personal"
	MemoryTypeWorkflow     = "workflow"
	MemoryTypeConversation = "conversation"
)

// Memory is a stored memory entry.
type Memory struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	MemoryType string     `json:"memory_type"`
	Tags       []string   `json:"tags,omitempty"`
	TopicID    string     `json:"topic_id,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// CreateMemoryInput carries a new memory entry.
type CreateMemoryInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	TopicID    string   `json:"topic_id,omitempty"`
}

// UpdateMemoryInput is a partial update; nil fields keep prior values.
type UpdateMemoryInput struct {
	ID         string    `json:"id"`
	Title      *string   `json:"title,omitempty"`
	Content    *string   `json:"content,omitempty"`
	MemoryType *string   `json:"memory_type,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	TopicID    *string   `json:"topic_id,omitempty"`
}

// SearchMemoriesInput selects memories by semantic similarity.
type SearchMemoriesInput struct {
	Query       string   `json:"query"`
	Limit       int      `json:"limit,omitempty"`
	Threshold   float64  `json:"threshold,omitempty"`
	MemoryTypes []string `json:"memory_types,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SearchMatch pairs a memory with its similarity score.
type SearchMatch struct {
	Memory
	Score float64 `json:"score,omitempty"`
}

// SearchMemoriesResult holds the ranked matches.
type SearchMemoriesResult struct {
	Results []SearchMatch `json:"results"`
	Total   int           `json:"total,omitempty"`
}

// ListMemoriesInput pages through stored memories.
type ListMemoriesInput struct {
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`
	TopicID    string `json:"topic_id,omitempty"`
}

// ListMemoriesResult is one page of memories.
type ListMemoriesResult struct {
	Memories []Memory `json:"memories"`
	Total    int      `json:"total,omitempty"`
}

// DeleteMemoryResult acknowledges a deletion.
type DeleteMemoryResult struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id,omitempty"`
}

const methodToolsCall = "tools/call"

// toolCallParams is the tools/call envelope payload.
type toolCallParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// callTool invokes a named tool and decodes its result payload.
func callTool[R any](ctx context.Context, client *Client, tool string, arguments interface{}) (*R, error) {
	raw, err := client.Call(ctx, methodToolsCall, &toolCallParams{Name: tool, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result R
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// CreateMemory stores a new memory entry.
func CreateMemory(ctx context.Context, client *Client, input *CreateMemoryInput) (*Memory, error) {
	return callTool[Memory](ctx, client, "memory_create", input)
}

// GetMemory fetches one memory by id.
func GetMemory(ctx context.Context, client *Client, id string) (*Memory, error) {
	return callTool[Memory](ctx, client, "memory_get", map[string]string{"id": id})
}

// UpdateMemory applies a partial update and returns the stored entry.
func UpdateMemory(ctx context.Context, client *Client, input *UpdateMemoryInput) (*Memory, error) {
	return callTool[Memory](ctx, client, "memory_update", input)
}

// DeleteMemory removes a memory by id.
func DeleteMemory(ctx context.Context, client *Client, id string) (*DeleteMemoryResult, error) {
	return callTool[DeleteMemoryResult](ctx, client, "memory_delete", map[string]string{"id": id})
}

// ListMemories pages through stored memories.
func ListMemories(ctx context.Context, client *Client, input *ListMemoriesInput) (*ListMemoriesResult, error) {
	return callTool[ListMemoriesResult](ctx, client, "memory_list", input)
}

// SearchMemories runs a similarity search.
func SearchMemories(ctx context.Context, client *Client, input *SearchMemoriesInput) (*SearchMemoriesResult, error) {
	return callTool[SearchMemoriesResult](ctx, client, "memory_search", input)
}
