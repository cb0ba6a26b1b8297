package llm

import (
	"fmt"
	"strings"
)

const promptTemplate = `You are an expert at extracting structured data from documents. I have a document, and I need you to extract data from it in order
to populate a set of fields defined in a schema.

The data should all be relevant to the data in this schema:
%[1]s

Here is the document (%[2]s, part %[3]d of %[4]d):
%[5]s

Please extract the data from this document and provide it in a JSON object. For each field you extract, also provide metadata about the extraction:

1. page_number: The page number where this information was found (if available)
2. prominence: How prominent this information is in the document (e.g., "header", "title", "main text", "footnote")
3. format: The format of the information (e.g., "table", "paragraph", "list", "heading")
4. confidence: Your confidence in the relevance of the extraction to filling in the schema (0.0 to 1.0).

Also explain briefly, per field, where the value came from.

Return your response in this format:
{
  "data": { "field_name": "value" },
  "metadata": {
    "field_name": {"page_number": 1, "prominence": "header", "format": "table", "confidence": 0.53}
  },
  "reasoning": { "field_name": "short explanation" }
}

For numeric values remove currency symbols and commas. Use ISO dates (YYYY-MM-DD).
Omit fields that are not present in this part of the document.
Return only the JSON object, with no additional text or explanation.`

// BuildPrompt renders the extraction prompt for one chunk.
func BuildPrompt(req ChunkRequest) string {
	schema := strings.TrimSpace(string(req.Schema))
	if schema == "" || schema == "null" {
		schema = "No schema provided"
	}
	total := req.TotalChunks
	if total < 1 {
		total = 1
	}
	return fmt.Sprintf(promptTemplate, schema, req.FileName, req.ChunkIndex, total, req.Text)
}
