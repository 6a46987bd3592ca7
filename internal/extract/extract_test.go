package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const listingPage = `<html><body>
<div class="news">
  <div class="card">
    <h3 class="headline">Tram T7 ouvert</h3>
    <a class="more" href="/actu/tram-t7">Lire</a>
    <img data-src="//cdn.example.com/t7.jpg">
    <time datetime="2024-03-05T09:30:00Z">5 mars</time>
    <p class="lead">La nouvelle ligne dessert Décines.</p>
  </div>
  <div class="card">
    <h3 class="headline">Sans lien</h3>
  </div>
  <div class="card">
    <a class="more" href="/actu/no-title">Lire</a>
  </div>
  <div class="card">
    <h3 class="headline">Fête des Lumières</h3>
    <a class="more" href="https://other.example.com/lumieres">Lire</a>
    <img src="/img/lumieres.png">
    <span class="date">2024-12-08</span>
  </div>
</div>
</body></html>`

func TestListingConfiguredSelectors(t *testing.T) {
	t.Parallel()

	sel := news.Selectors{Container: ".news", Item: ".card", Title: ".headline", Link: "a.more", Excerpt: ".lead"}
	got, err := Listing(listingPage, "https://www.example.com/lyon", sel, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "Tram T7 ouvert", got[0].Title)
	require.Equal(t, "https://www.example.com/actu/tram-t7", got[0].Link)
	require.Equal(t, "https://cdn.example.com/t7.jpg", got[0].ImageURL)
	require.Equal(t, "La nouvelle ligne dessert Décines.", got[0].Excerpt)
	require.NotNil(t, got[0].PublishedAt)
	require.Equal(t, 5, got[0].PublishedAt.Day())

	require.Equal(t, "https://other.example.com/lumieres", got[1].Link)
	require.Equal(t, "https://www.example.com/img/lumieres.png", got[1].ImageURL)
	require.NotNil(t, got[1].PublishedAt)
}

func TestListingGenericCascade(t *testing.T) {
	t.Parallel()

	page := `<html><body><main>
	<article><h2>Un</h2><a href="/un">x</a><p>Premier</p></article>
	<article><h2>Deux</h2><a href="/deux">x</a></article>
	</main></body></html>`

	got, err := Listing(page, "https://www.example.com/", news.Selectors{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Un", got[0].Title)
	require.Equal(t, "Premier", got[0].Excerpt)
	require.Equal(t, "https://www.example.com/deux", got[1].Link)
	require.Nil(t, got[1].PublishedAt)
}

func TestListingFallsBackWhenConfiguredContainerMisses(t *testing.T) {
	t.Parallel()

	page := `<div class="articles"><a href="/solo"><h2>Seul</h2></a></div>`
	got, err := Listing(page, "https://www.example.com/", news.Selectors{Container: ".missing"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://www.example.com/solo", got[0].Link)
}

func TestListingCapsAndDedupes(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<main>")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<article><h2>Titre %d</h2><a href="/a/%d">x</a></article>`, i, i)
	}
	b.WriteString(`<article><h2>Doublon</h2><a href="/a/0">x</a></article></main>`)

	got, err := Listing(b.String(), "https://www.example.com/", news.Selectors{}, 0)
	require.NoError(t, err)
	require.Len(t, got, DefaultMaxItems)

	got, err = Listing(b.String(), "https://www.example.com/", news.Selectors{}, 50)
	require.NoError(t, err)
	require.Len(t, got, 15)
}

func TestListingNoMatches(t *testing.T) {
	t.Parallel()

	got, err := Listing("<html><body><p>vide</p></body></html>", "https://www.example.com/", news.Selectors{}, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestArticleSelectorCascade(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Site</title></head><body>
	<nav>menu</nav>
	<div class="entry-content">
	  <h1>Le marché de Noël</h1>
	  <p>Les chalets ouvrent place Carnot.</p>
	  <script>track()</script>
	  <div class="social-share">Partager</div>
	  <div class="comment-box">Avis</div>
	  <figure><img src="/img/noel.jpg" alt="Chalets"><figcaption>Place Carnot</figcaption></figure>
	  <img data-src="https://cdn.example.com/2.jpg">
	</div>
	</body></html>`

	got, err := Article(page, "https://www.example.com/actu/noel")
	require.NoError(t, err)
	require.Equal(t, "Le marché de Noël", got.Title)
	require.Contains(t, got.Text, "Les chalets ouvrent place Carnot.")
	require.NotContains(t, got.Text, "Partager")
	require.NotContains(t, got.Text, "Avis")
	require.NotContains(t, got.HTML, "<script")
	require.Len(t, got.Images, 2)
	require.Equal(t, news.ArticleImage{
		Src:     "https://www.example.com/img/noel.jpg",
		Alt:     "Chalets",
		Caption: "Place Carnot",
	}, got.Images[0])
	require.Equal(t, "https://cdn.example.com/2.jpg", got.Images[1].Src)
}

func TestArticleTitleFallsBackToDocument(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Titre onglet</title></head><body>
	<h1>Titre page</h1><article><p>Corps</p></article></body></html>`
	got, err := Article(page, "https://www.example.com/a")
	require.NoError(t, err)
	require.Equal(t, "Titre page", got.Title)
	require.Equal(t, "Corps", got.Text)
}

func TestArticleFallsBackToTitleAndBody(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Brève</title></head><body><span>Court</span></body></html>`
	got, err := Article(page, "https://www.example.com/b")
	require.NoError(t, err)
	require.Equal(t, "Brève", got.Title)
	require.Contains(t, got.Text, "Court")
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw string
		ok  bool
	}{
		{"2024-03-05T09:30:00Z", true},
		{"2024-03-05", true},
		{"05/03/2024", true},
		{"hier", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			_, ok := ParseDate(tt.raw)
			require.Equal(t, tt.ok, ok)
		})
	}
}
