package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Platform identifies a recognized commerce platform.
type Platform string

// Platforms with dedicated DOM fallbacks.
const (
	PlatformUnknown     Platform = ""
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformMagento     Platform = "magento"
)

// DetectPlatform is a pure function matching signature selectors. It runs
// once per page; the result selects the fallback strategy, nothing else.
func DetectPlatform(doc *goquery.Document) Platform {
	if doc.Find(`meta[name="shopify-checkout-api-token"], .shopify-section, script[src*="cdn.shopify.com"]`).Length() > 0 {
		return PlatformShopify
	}
	if bodyClass, _ := doc.Find("body").Attr("class"); strings.Contains(bodyClass, "woocommerce") {
		return PlatformWooCommerce
	}
	if doc.Find(`.woocommerce div.product, link[href*="wp-content/plugins/woocommerce"]`).Length() > 0 {
		return PlatformWooCommerce
	}
	if doc.Find(`script[type="text/x-magento-init"], body[class*="catalog-product"]`).Length() > 0 {
		return PlatformMagento
	}
	return PlatformUnknown
}

// platformFallback extracts fields through platform-specific selectors. It
// only runs when the platform is recognized and earlier strategies left the
// result insufficient.
type platformFallback struct {
	platform Platform
}

func newPlatformFallback(p Platform) *platformFallback {
	return &platformFallback{platform: p}
}

func (f *platformFallback) Name() string {
	return "platform-" + string(f.platform)
}

func (f *platformFallback) Extract(doc *goquery.Document) Fields {
	selectors, ok := platformSelectors[f.platform]
	if !ok {
		return Fields{}
	}
	return Fields{
		Title:        firstText(doc, selectors.title),
		Body:         firstBlock(doc, selectors.body),
		Price:        firstText(doc, selectors.price),
		Availability: firstText(doc, selectors.availability),
		SKU:          firstText(doc, selectors.sku),
	}
}

type selectorSet struct {
	title        []string
	body         []string
	price        []string
	availability []string
	sku          []string
}

var platformSelectors = map[Platform]selectorSet{
	PlatformShopify: {
		title:        []string{".product__title h1", ".product-single__title", "h1.title"},
		body:         []string{".product__description", ".product-single__description", ".rte"},
		price:        []string{".price__regular .price-item", ".product__price", ".price"},
		availability: []string{".product__inventory", "[data-inventory]"},
		sku:          []string{".product__sku", "[data-sku]"},
	},
	PlatformWooCommerce: {
		title:        []string{".product_title", "h1.entry-title"},
		body:         []string{".woocommerce-product-details__short-description", "#tab-description", ".summary"},
		price:        []string{"p.price .woocommerce-Price-amount", "p.price"},
		availability: []string{".stock"},
		sku:          []string{".sku"},
	},
	PlatformMagento: {
		title:        []string{".page-title .base", "h1.page-title"},
		body:         []string{".product.attribute.description .value", ".product-info-main .overview"},
		price:        []string{".price-box .price"},
		availability: []string{".stock.available span", ".stock.unavailable span"},
		sku:          []string{".product.attribute.sku .value"},
	},
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := strings.Join(strings.Fields(node.Text()), " "); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstBlock(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := blockText(node); text != "" {
				return text
			}
		}
	}
	return ""
}
