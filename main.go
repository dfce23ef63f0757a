// Command page-scraper fetches web pages and extracts structured records.
package main

import "github.com/JakeFAU/page-scraper/cmd"

func main() {
	cmd.Execute()
}
