package ai

import (
	"encoding/json"
	"fmt"
)

func analysisPrompt(content string) string {
	return fmt.Sprintf(`Analyze the email below and decide whether it is a commercial offer for laptops, computers or related hardware.

Consider:
- does it describe computer products (laptops, PCs, monitors, components)?
- does it contain prices, discounts or stock lists?
- does it come from a seller and invite a purchase?

Treat the email as an OFFER (isOffer: true) when:
- the subject mentions "OFFER", "NTB", "laptop", "notebook" or an offer date
- the body says "find attached our offer", "please find attached" or "attached our current offer"
- the body carries a price in EUR (e.g. "23 668,00 €") or a count with a product (e.g. "136x HP Laptop Mix")
- most of the text is a footer (Contact, Unsubscribe): look for the offer in the first lines. A doubtful mail is better classified as an offer than skipped.

Reply in JSON:
{
  "isOffer": true/false,
  "confidence": 0-100,
  "category": "laptop" | "monitor" | "desktop" | "components" | "accessories" | "other" | null,
  "details": {
    "productType": "product type or null",
    "brand": "brand or null",
    "model": "model or null",
    "price": "price or null",
    "discount": "discount or null",
    "store": "store name or null"
  },
  "reasoning": "short justification"
}

EMAIL:
%s

REPLY (JSON only):`, content)
}

func laptopRowsPrompt(rows [][]string) string {
	return fmt.Sprintf(`You extract laptop offers from spreadsheet data given as a JSON array of rows.

For every laptop return:
- model (e.g. "EliteBook 845 G8", "ThinkPad X1")
- ram (e.g. "8 GB", "16 GB")
- storage (e.g. "256 GB", "1 TB")
- price exactly as in the sheet, with currency (e.g. "4000 EUR", "850,00 PLN"). Do NOT divide by the quantity.
- amount: the unit count of the row from an amount/quantity/qty/pcs column, 1 when there is none
- graphicsCard (e.g. "NVIDIA RTX 3060", "Intel UHD Graphics") or null
Also return the offer grade (e.g. "85%% A/A- Grade, 15%% B Grade") and the total price when present. Default currency is EUR.

SPREADSHEET:
%s

Reply in JSON:
{
  "laptops": [
    {"model": "string", "ram": "string", "storage": "string", "price": "string", "amount": number, "graphicsCard": "string or null"}
  ],
  "grade": "string or null",
  "totalPrice": "string or null",
  "totalQuantity": number
}

RETURN JSON ONLY.`, rowsJSON(rows))
}

func laptopEmailPrompt(content string) string {
	return fmt.Sprintf(`You extract laptop offers from the body of an email.

Find EVERY laptop in the mail, even if there is only one. For each return:
- model (e.g. "Lenovo ThinkPad T14 G2", "DELL Latitude 5320")
- ram (e.g. "16 GB")
- storage (e.g. "512 GB SSD")
- price with the currency used in the mail (e.g. "1160,00 PLN", "850,00 EUR"); use the discounted price when two are given
- graphicsCard (e.g. "Iris Xe", "NVIDIA RTX 3060") or null
Also return the grade/condition (e.g. "Grade A") when stated, and the total price and quantity when they make sense.

A line such as "DELL Latitude 5320 i5-1145G7 16GB 512GB SSD 13" FHD 820,00 zł" is one laptop.
Never leave ram, storage or price null when the mail states them.

EMAIL:
%s

Reply in JSON:
{
  "laptops": [
    {"model": "string", "ram": "string", "storage": "string", "price": "string", "graphicsCard": "string or null"}
  ],
  "grade": "string or null",
  "totalPrice": "string or null",
  "totalQuantity": number
}

RETURN JSON ONLY.`, content)
}

func monitorRowsPrompt(rows [][]string) string {
	return fmt.Sprintf(`You extract MONITOR offers from spreadsheet data given as a JSON array of rows.

For every monitor return:
- model or null
- sizeInches: screen size in inches (e.g. 24, 27); "27 cali" or 27" means 27
- resolution only when stated (e.g. "1920x1080"; "Full HD" is "1920x1080"), else null
- price exactly as in the sheet, with currency. Do NOT divide by the quantity.
- amount: the unit count of the row, 1 when there is none

SPREADSHEET:
%s

Reply in JSON only:
{
  "monitors": [
    {"model": "string or null", "sizeInches": number, "resolution": "string or null", "price": "string", "amount": number}
  ],
  "totalPrice": "string or null",
  "totalQuantity": number
}`, rowsJSON(rows))
}

func monitorEmailPrompt(content string) string {
	return fmt.Sprintf(`You extract MONITOR offers from the body of an email.

For every monitor return:
- model or null
- sizeInches in inches; for a range such as "32-34" use the lower bound
- resolution only when stated (e.g. "QHD", "2560x1440"), else null
- price for the whole line with currency (e.g. "1.373,00 €")
- amount from the description ("7x" is 7)

EMAIL:
%s

Reply in JSON only:
{
  "monitors": [
    {"model": "string or null", "sizeInches": number, "resolution": "string or null", "price": "string", "amount": number}
  ],
  "totalPrice": "string or null",
  "totalQuantity": number
}`, content)
}

func desktopRowsPrompt(rows [][]string) string {
	return fmt.Sprintf(`You extract DESKTOP computer offers from spreadsheet data given as a JSON array of rows.

For every desktop return:
- model or null
- caseType: "Tower" (full case), "SFF" (small form factor) or "Mini" (mini PC)
- ram (e.g. "8 GB")
- storage (e.g. "256 GB", "1 TB")
- price exactly as in the sheet, with currency. Do NOT divide by the quantity.
- amount: the unit count of the row, 1 when there is none

SPREADSHEET:
%s

Reply in JSON only:
{
  "desktops": [
    {"model": "string or null", "caseType": "Tower" | "SFF" | "Mini", "ram": "string", "storage": "string", "price": "string", "amount": number}
  ],
  "totalPrice": "string or null",
  "totalQuantity": number
}`, rowsJSON(rows))
}

func desktopEmailPrompt(content string) string {
	return fmt.Sprintf(`You extract DESKTOP computer offers from the body of an email.

Return every computer, even a single short description such as "tower, 32GB RAM, 2TB, 300 Euro". For each:
- model or null
- caseType: "Tower", "SFF" or "Mini"; "tower" or "full" means "Tower"; when unknown use "Tower"
- ram (e.g. "32 GB")
- storage (e.g. "2 TB")
- price with currency (e.g. "300 EUR", "1200 PLN")

EMAIL:
%s

Reply in JSON only:
{
  "desktops": [
    {"model": "string or null", "caseType": "Tower" | "SFF" | "Mini", "ram": "string", "storage": "string", "price": "string"}
  ],
  "totalPrice": "string or null",
  "totalQuantity": number
}`, content)
}

func rowsJSON(rows [][]string) string {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
