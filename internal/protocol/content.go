// Package protocol defines the content blocks and session updates exchanged
// with an agent over its session protocol, along with the JSON codec used to
// persist raw update logs.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ContentBlock is one piece of message content. Exactly one of the concrete
// types in this package implements it for each wire discriminator.
type ContentBlock interface {
	isContent()
}

// TextContent is a plain text block.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent is a base64-encoded image, optionally addressable by URI.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	URI      string `json:"uri,omitempty"`
}

// AudioContent is a base64-encoded audio clip.
type AudioContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ResourceContent is a link to a resource the agent can address, typically a
// file:// URI inside the sandbox.
type ResourceContent struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// EmbeddedResourceContent carries resource contents inline, either as text or
// as a base64 blob.
type EmbeddedResourceContent struct {
	URI      string  `json:"uri"`
	MimeType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     *string `json:"blob,omitempty"`
}

func (TextContent) isContent()             {}
func (ImageContent) isContent()            {}
func (AudioContent) isContent()            {}
func (ResourceContent) isContent()         {}
func (EmbeddedResourceContent) isContent() {}

// Bytes decodes the base64 image payload.
func (c ImageContent) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}

// Bytes decodes the base64 audio payload.
func (c AudioContent) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Data)
}

// Bytes decodes the blob payload, or returns nil for text resources.
func (c EmbeddedResourceContent) Bytes() ([]byte, error) {
	if c.Blob == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(*c.Blob)
}

// Wire discriminators for content blocks.
const (
	contentTypeText             = "text"
	contentTypeImage            = "image"
	contentTypeAudio            = "audio"
	contentTypeResourceLink     = "resource_link"
	contentTypeEmbeddedResource = "resource"
)

// contentEnvelope is the union wire form of a ContentBlock.
type contentEnvelope struct {
	Type        string             `json:"type"`
	Text        string             `json:"text,omitempty"`
	Data        string             `json:"data,omitempty"`
	MimeType    string             `json:"mimeType,omitempty"`
	URI         string             `json:"uri,omitempty"`
	Name        string             `json:"name,omitempty"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Size        *int64             `json:"size,omitempty"`
	Resource    *embeddedResource  `json:"resource,omitempty"`
}

type embeddedResource struct {
	URI      string  `json:"uri"`
	MimeType string  `json:"mimeType,omitempty"`
	Text     *string `json:"text,omitempty"`
	Blob     *string `json:"blob,omitempty"`
}

func marshalContent(block ContentBlock) ([]byte, error) {
	var env contentEnvelope
	switch b := block.(type) {
	case TextContent:
		env = contentEnvelope{Type: contentTypeText, Text: b.Text}
	case ImageContent:
		env = contentEnvelope{Type: contentTypeImage, Data: b.Data, MimeType: b.MimeType, URI: b.URI}
	case AudioContent:
		env = contentEnvelope{Type: contentTypeAudio, Data: b.Data, MimeType: b.MimeType}
	case ResourceContent:
		env = contentEnvelope{
			Type:        contentTypeResourceLink,
			URI:         b.URI,
			Name:        b.Name,
			Title:       b.Title,
			Description: b.Description,
			MimeType:    b.MimeType,
			Size:        b.Size,
		}
	case EmbeddedResourceContent:
		env = contentEnvelope{
			Type: contentTypeEmbeddedResource,
			Resource: &embeddedResource{
				URI:      b.URI,
				MimeType: b.MimeType,
				Text:     b.Text,
				Blob:     b.Blob,
			},
		}
	default:
		return nil, fmt.Errorf("unsupported content block %T", block)
	}
	return json.Marshal(env)
}

func unmarshalContent(data []byte) (ContentBlock, error) {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding content block: %w", err)
	}
	switch env.Type {
	case contentTypeText:
		return TextContent{Text: env.Text}, nil
	case contentTypeImage:
		return ImageContent{Data: env.Data, MimeType: env.MimeType, URI: env.URI}, nil
	case contentTypeAudio:
		return AudioContent{Data: env.Data, MimeType: env.MimeType}, nil
	case contentTypeResourceLink:
		return ResourceContent{
			URI:         env.URI,
			Name:        env.Name,
			Title:       env.Title,
			Description: env.Description,
			MimeType:    env.MimeType,
			Size:        env.Size,
		}, nil
	case contentTypeEmbeddedResource:
		if env.Resource == nil {
			return nil, fmt.Errorf("embedded resource block missing resource body")
		}
		return EmbeddedResourceContent{
			URI:      env.Resource.URI,
			MimeType: env.Resource.MimeType,
			Text:     env.Resource.Text,
			Blob:     env.Resource.Blob,
		}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", env.Type)
	}
}

// ContentList is a JSON-round-trippable slice of content blocks.
type ContentList []ContentBlock

// MarshalJSON encodes each block with its type discriminator.
func (l ContentList) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(l))
	for i, block := range l {
		data, err := marshalContent(block)
		if err != nil {
			return nil, err
		}
		items[i] = data
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes blocks by their type discriminator.
func (l *ContentList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	blocks := make([]ContentBlock, len(items))
	for i, item := range items {
		block, err := unmarshalContent(item)
		if err != nil {
			return err
		}
		blocks[i] = block
	}
	*l = blocks
	return nil
}
