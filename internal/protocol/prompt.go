package protocol

import "encoding/base64"

// Prompt block helpers. Prompts are ordinary content blocks; these
// constructors cover the common cases when authoring tasks.

// Text returns a text prompt block.
func Text(text string) ContentBlock {
	return TextContent{Text: text}
}

// Image returns an image prompt block from raw bytes.
func Image(data []byte, mimeType string) ContentBlock {
	return ImageContent{Data: base64.StdEncoding.EncodeToString(data), MimeType: mimeType}
}

// Audio returns an audio prompt block from raw bytes.
func Audio(data []byte, mimeType string) ContentBlock {
	return AudioContent{Data: base64.StdEncoding.EncodeToString(data), MimeType: mimeType}
}

// Link returns a resource link prompt block.
func Link(uri, name string) ContentBlock {
	return ResourceContent{URI: uri, Name: name}
}

// TextResource returns an embedded text resource prompt block.
func TextResource(uri, mimeType, text string) ContentBlock {
	return EmbeddedResourceContent{URI: uri, MimeType: mimeType, Text: &text}
}

// BlobResource returns an embedded binary resource prompt block.
func BlobResource(uri, mimeType string, data []byte) ContentBlock {
	blob := base64.StdEncoding.EncodeToString(data)
	return EmbeddedResourceContent{URI: uri, MimeType: mimeType, Blob: &blob}
}
