// Package knowledge holds the domain knowledge base behind the knowledge
// search tool: passages with embedding vectors, an in-memory cosine index and
// a Retriever that embeds queries before searching.
//
// A knowledge base file is JSON:
//
//	{
//	  "domain": "three fictitious companies",
//	  "passages": [
//	    {"id": "gl-1", "title": "Fic-GreenLife", "text": "...", "vector": [0.1, 0.2]}
//	  ]
//	}
//
// Passages without a vector are embedded on load.
package knowledge
