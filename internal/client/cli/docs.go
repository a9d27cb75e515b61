package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/offlinekit/docstore/internal/document"
)

// listDocs resolves a collection listing through the shared query runner, so
// repeated lists are served from its cache until a write invalidates the
// collection's keys.
func (a *App) listDocs(ctx context.Context, collection string) ([]document.Document, error) {
	st, err := a.openStore(ctx, collection)
	if err != nil {
		return nil, err
	}
	res := a.runner.Do(ctx, collection+":list", func(ctx context.Context) (any, error) {
		return st.Find(ctx, document.Query{Sort: []string{document.FieldID}})
	})
	value, err := res.Wait(ctx)
	if err != nil {
		return nil, err
	}
	docs, _ := value.([]document.Document)
	return docs, nil
}

func (a *App) fetchDoc(ctx context.Context, collection, id string) (document.Document, error) {
	st, err := a.openStore(ctx, collection)
	if err != nil {
		return nil, err
	}
	res := a.runner.Do(ctx, collection+":doc:"+id, func(ctx context.Context) (any, error) {
		return st.Get(ctx, id)
	})
	value, err := res.Wait(ctx)
	if err != nil {
		return nil, err
	}
	doc, _ := value.(document.Document)
	return doc, nil
}

func (a *App) List(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: list <collection>")
		return
	}

	docs, err := a.listDocs(ctx, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	for _, doc := range docs {
		fmt.Printf("%s  rev=%s  type=%s\n", doc.ID(), doc.Rev(), doc.Type())
	}
	fmt.Printf("%d document(s)\n", len(docs))
}

func (a *App) GetDoc(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: get <collection> <id>")
		return
	}

	doc, err := a.fetchDoc(ctx, args[0], args[1])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	pretty, _ := json.MarshalIndent(doc, "", "  ")
	fmt.Println(string(pretty))
}

func (a *App) PutDoc(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: put <collection> <json>")
		return
	}

	var doc document.Document
	if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &doc); err != nil {
		fmt.Printf("invalid json: %v\n", err)
		return
	}

	st, err := a.openStore(ctx, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	saved, err := st.Set(ctx, doc.NormalizeTimes())
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	a.runner.Invalidate(args[0] + ":")
	fmt.Printf("saved %s rev=%s\n", saved.ID(), saved.Rev())
}

func (a *App) DeleteDoc(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: del <collection> <id>")
		return
	}

	st, err := a.openStore(ctx, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	doc, err := st.Get(ctx, args[1])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	if _, err := st.Delete(ctx, doc); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	a.runner.Invalidate(args[0] + ":")
	fmt.Printf("deleted %s\n", args[1])
}

func (a *App) Pending(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: pending <collection>")
		return
	}

	rep := a.db.Collection(args[0])

	docs, err := rep.Pending(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	seq, err := rep.Checkpoint(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	for _, doc := range docs {
		fmt.Printf("%s  rev=%s\n", doc.ID(), doc.Rev())
	}
	fmt.Printf("%d pending edit(s), checkpoint seq=%d\n", len(docs), seq)
}
