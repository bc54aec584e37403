package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridMarkerPaths(t *testing.T) {
	html := `<html><body>
	<a href="/products/wool-sweater">Wool Sweater</a>
	<a href="https://www.shop.de/p/linen-pants">Linen Pants</a>
	<a href="/dp/B0TESTASIN">Imported Find</a>
	<a href="/about">About us</a>
	<a href="/products/">All products</a>
	</body></html>`

	s := &gridStrategy{}
	res := s.Extract(parseDoc(t, html), "https://www.shop.de/herren")
	require.NotNil(t, res)
	assert.Equal(t, []string{
		"https://www.shop.de/products/wool-sweater",
		"https://www.shop.de/p/linen-pants",
		"https://www.shop.de/dp/B0TESTASIN",
	}, res.Links)
	assert.Empty(t, res.Products)
}

func TestGridContainerClass(t *testing.T) {
	html := `<html><body>
	<div class="productTile"><a href="/a/wool-sweater">Wool Sweater</a></div>
	<div class="product-card"><div class="inner"><a href="/b/linen-pants">Linen Pants</a></div></div>
	<div class="footer"><a href="/imprint">Imprint</a></div>
	</body></html>`

	s := &gridStrategy{}
	res := s.Extract(parseDoc(t, html), "https://www.shop.de/herren")
	require.NotNil(t, res)
	assert.Equal(t, []string{
		"https://www.shop.de/a/wool-sweater",
		"https://www.shop.de/b/linen-pants",
	}, res.Links)
}

func TestGridFiltersOffsiteAndDuplicates(t *testing.T) {
	html := `<html><body>
	<a href="/products/one">One</a>
	<a href="/products/one">One again</a>
	<a href="https://ads.tracking-network.com/products/decoy">Sponsored</a>
	<a href="https://en.shop.de/products/two">Two</a>
	<a href="mailto:support@shop.de">Mail</a>
	<a href="#top">Top</a>
	</body></html>`

	s := &gridStrategy{}
	res := s.Extract(parseDoc(t, html), "https://www.shop.de/katalog")
	require.NotNil(t, res)
	assert.Equal(t, []string{
		"https://www.shop.de/products/one",
		"https://en.shop.de/products/two",
	}, res.Links)
}

func TestGridNothingQualifies(t *testing.T) {
	html := `<html><body>
	<a href="/help">Help</a>
	<a href="/stores">Stores</a>
	</body></html>`

	s := &gridStrategy{}
	res := s.Extract(parseDoc(t, html), "https://www.shop.de/katalog")
	assert.Nil(t, res)
}
