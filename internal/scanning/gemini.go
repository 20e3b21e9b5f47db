package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// invoicePagePrompt is the shared instruction used by all extraction
// providers. It fixes the exact JSON schema a page must come back as; the
// category vocabulary is appended at construction time.
const invoicePagePromptTemplate = `You are analyzing one page of a scanned vendor invoice for a retail store. Carefully read all text on the page and extract:

1. **Vendor Name**: the supplier/wholesaler name, usually in the page header.
2. **Invoice Number**: the invoice or bill number (e.g. "INV-2041", "BILL/779").
3. **Invoice Date**: the invoice date, converted to YYYY-MM-DD.
4. **Total Amount**: the grand total / amount payable for the whole invoice, as a number.
5. **Line Items**: every row of the item table. For each row extract:
   - product_name (exact text from the invoice)
   - quantity (number)
   - unit_cost (price per unit)
   - total_price (line total)
   - category (one of: %s)
   - product_code (vendor or UPC code if printed, else null)

Return ONLY valid JSON in this exact format:
{
  "vendor_name": "...",
  "invoice_number": "...",
  "invoice_date": "YYYY-MM-DD",
  "total_amount": 0.00,
  "items": [
    {
      "product_name": "...",
      "quantity": 1,
      "unit_cost": 10.00,
      "total_price": 10.00,
      "category": "...",
      "product_code": null
    }
  ]
}

Important:
- Header fields not visible on this page must be null (continuation pages often have no header)
- Amounts must be numbers (not strings), without currency symbols
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

func invoicePagePrompt() string {
	return fmt.Sprintf(invoicePagePromptTemplate, strings.Join(Categories(), ", "))
}

// Gemini implements the PageExtractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	prompt string
}

// NewGemini creates a new Gemini PageExtractor instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
		prompt: invoicePagePrompt(),
	}, nil
}

// ExtractPage analyzes one rendered invoice page and extracts its fields
func (g *Gemini) ExtractPage(ctx context.Context, pageImage []byte) (*PageRecord, error) {
	// Pages arrive already rendered to PNG by the rasterizer.
	parts := []genai.Part{
		genai.ImageData("png", pageImage),
		genai.Text(g.prompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	record, err := parseInvoiceJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing page data: %w", err)
	}

	return record, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
