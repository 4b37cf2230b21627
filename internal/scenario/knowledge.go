package scenario

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/studiowebux/difyload/internal/chain"
	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/types"
)

const indexingTechnique = "high_quality"

// Knowledge exercises the dataset, document, segment and retrieval endpoints
type Knowledge struct {
	base
	kb types.KnowledgeHandle

	// LastRetrieved is the number of records returned by the last retrieval
	LastRetrieved int
}

// NewKnowledge creates the knowledge domain for one virtual user
func NewKnowledge(deps Deps) *Knowledge {
	return &Knowledge{base: newBase("knowledge", deps)}
}

// Handle returns the current knowledge handle
func (k *Knowledge) Handle() types.KnowledgeHandle {
	return k.kb
}

// Tasks returns the knowledge operation weights
func (k *Knowledge) Tasks() []Task {
	return []Task{
		{Name: "create_base", Weight: 3, Run: k.CreateBase},
		{Name: "create_document_by_text", Weight: 3, Run: k.CreateDocumentByText},
		{Name: "create_document_by_file", Weight: 2, Run: k.CreateDocumentByFile},
		{Name: "list_documents", Weight: 2, Run: k.ListDocuments},
		{Name: "indexing_status", Weight: 2, Run: k.IndexingStatus},
		{Name: "retrieve", Weight: 3, Run: k.Retrieve},
		{Name: "add_segments", Weight: 1, Run: k.AddSegments},
		{Name: "delete_document", Weight: 1, Run: k.DeleteDocument},
		{Name: "delete_base", Weight: 1, Run: k.DeleteBase},
	}
}

// PerformAll creates a dataset once, adds a document, waits for it to be
// indexed and queries it
func (k *Knowledge) PerformAll(ctx context.Context) error {
	return k.protect(ctx, k.performAll)
}

func (k *Knowledge) performAll(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		if err := k.CreateBase(ctx); err != nil {
			return err
		}
	}
	if k.kb.DatasetID == "" {
		return nil
	}

	if err := k.CreateDocumentByText(ctx); err != nil {
		return err
	}

	if k.kb.BatchID != "" {
		status, err := k.checkIndexing(ctx)
		if err != nil {
			return err
		}
		if !poller.IsTerminal(status) {
			k.WaitForIndexing(ctx)
		}
	}

	if err := k.Retrieve(ctx); err != nil {
		return err
	}

	if k.kb.DocumentID != "" {
		if err := k.AddSegments(ctx); err != nil {
			return err
		}
	}

	if k.env.UserCount() > 10 {
		return runSteps(ctx, k.DeleteDocument, k.DeleteBase)
	}
	return nil
}

func (k *Knowledge) datasetPath(parts ...string) string {
	path := "/datasets/" + url.PathEscape(k.kb.DatasetID)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// CreateBase creates an empty dataset
func (k *Knowledge) CreateBase(ctx context.Context) error {
	data, ok, err := k.sendOK(ctx, executor.Request{
		Name:   "/datasets/create",
		Method: http.MethodPost,
		Path:   "/datasets",
		JSON: map[string]any{
			"name":               "Test Knowledge " + k.user(),
			"description":        "Test description for load testing",
			"indexing_technique": indexingTechnique,
			"permission":         "only_me",
			"provider":           "vendor",
		},
	}, "create_knowledge_base")
	if err != nil || !ok {
		return err
	}
	k.kb.DatasetID = chain.Lookup(data, "id")
	return nil
}

// CreateDocumentByText adds a text document to the dataset
func (k *Knowledge) CreateDocumentByText(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		return nil
	}
	data, ok, err := k.sendOK(ctx, executor.Request{
		Name:   "/documents/create-by-text",
		Method: http.MethodPost,
		Path:   k.datasetPath("document", "create-by-text"),
		JSON: map[string]any{
			"name":               "test_document.txt",
			"text":               "This is a test document content for load testing purposes.",
			"indexing_technique": indexingTechnique,
			"process_rule":       map[string]any{"mode": "automatic"},
		},
	}, "create_document_by_text")
	if err != nil || !ok {
		return err
	}
	k.setDocument(data)
	return nil
}

// CreateDocumentByFile uploads the document fixture into the dataset
func (k *Knowledge) CreateDocumentByFile(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		return nil
	}
	file, found := k.files.Lookup(types.FileDocument)
	if !found {
		return nil
	}

	settings, err := json.Marshal(map[string]any{
		"indexing_technique": indexingTechnique,
		"process_rule":       map[string]any{"mode": "automatic"},
	})
	if err != nil {
		return err
	}

	data, ok, err := k.sendOK(ctx, executor.Request{
		Name:   "/documents/create-by-file",
		Method: http.MethodPost,
		Path:   k.datasetPath("document", "create-by-file"),
		Form: &executor.Form{
			Fields:      map[string]string{"data": string(settings)},
			FileField:   "file",
			FileName:    "test.txt",
			FilePath:    file.Path,
			ContentType: file.MIMEType,
		},
	}, "create_document_by_file")
	if err != nil || !ok {
		return err
	}
	k.setDocument(data)
	return nil
}

func (k *Knowledge) setDocument(data any) {
	k.kb.DocumentID = chain.Lookup(data, "document.id")
	k.kb.BatchID = chain.Lookup(data, "batch")
}

// ListDocuments lists the documents of the dataset
func (k *Knowledge) ListDocuments(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		return nil
	}
	_, err := k.send(ctx, executor.Request{
		Name:   "/documents/list",
		Method: http.MethodGet,
		Path:   k.datasetPath("documents"),
		Query: url.Values{
			"page":    {"1"},
			"limit":   {"20"},
			"keyword": {""},
		},
	}, "get_documents")
	return err
}

// IndexingStatus checks the indexing progress of the last batch
func (k *Knowledge) IndexingStatus(ctx context.Context) error {
	_, err := k.checkIndexing(ctx)
	return err
}

func (k *Knowledge) indexingRequest(name string) executor.Request {
	return executor.Request{
		Name:   name,
		Method: http.MethodGet,
		Path:   k.datasetPath("documents", url.PathEscape(k.kb.BatchID), "indexing-status"),
	}
}

func (k *Knowledge) checkIndexing(ctx context.Context) (string, error) {
	if k.kb.DatasetID == "" || k.kb.BatchID == "" {
		return "", nil
	}
	data, err := k.send(ctx, k.indexingRequest("/documents/indexing-status"), "check_indexing_status")
	if err != nil {
		return "", err
	}
	return chain.Lookup(data, "data[0].indexing_status"), nil
}

// WaitForIndexing polls the indexing status of the last batch until it
// completes, fails or the poll budget runs out
func (k *Knowledge) WaitForIndexing(ctx context.Context) poller.Result {
	if k.kb.DatasetID == "" || k.kb.BatchID == "" {
		return poller.TimedOut
	}
	return k.poll(ctx, k.indexingRequest("/documents/indexing-status/wait"),
		"wait_for_indexing", "data[0].indexing_status")
}

// Retrieve runs a semantic search against the dataset
func (k *Knowledge) Retrieve(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		return nil
	}
	data, err := k.send(ctx, executor.Request{
		Name:   "/datasets/retrieve",
		Method: http.MethodPost,
		Path:   k.datasetPath("retrieve"),
		JSON: map[string]any{
			"query": "test query for retrieval",
			"retrieval_model": map[string]any{
				"search_method":           "semantic_search",
				"reranking_enable":        false,
				"reranking_model":         nil,
				"top_k":                   3,
				"score_threshold_enabled": false,
			},
		},
	}, "retrieve_knowledge")
	if err != nil {
		return err
	}
	k.LastRetrieved = chain.Count(data, "records")
	return nil
}

// AddSegments adds a chunk to the document
func (k *Knowledge) AddSegments(ctx context.Context) error {
	if k.kb.DatasetID == "" || k.kb.DocumentID == "" {
		return nil
	}
	data, ok, err := k.sendOK(ctx, executor.Request{
		Name:   "/documents/segments/add",
		Method: http.MethodPost,
		Path:   k.datasetPath("documents", url.PathEscape(k.kb.DocumentID), "segments"),
		JSON: map[string]any{
			"segments": []any{
				map[string]any{
					"content":  "Test segment content",
					"answer":   "Test answer",
					"keywords": []string{"test", "segment"},
				},
			},
		},
	}, "add_segments")
	if err != nil || !ok {
		return err
	}
	if id := chain.Lookup(data, "data[0].id"); id != "" {
		k.kb.SegmentID = id
	}
	return nil
}

// DeleteDocument removes the document and forgets it on success
func (k *Knowledge) DeleteDocument(ctx context.Context) error {
	if k.kb.DatasetID == "" || k.kb.DocumentID == "" {
		return nil
	}
	call, err := k.client.Send(ctx, executor.Request{
		Name:   "/documents/delete",
		Method: http.MethodDelete,
		Path:   k.datasetPath("documents", url.PathEscape(k.kb.DocumentID)),
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode == http.StatusOK {
		k.kb.ClearDocument()
	}
	return nil
}

// DeleteBase removes the dataset and forgets every id on success
func (k *Knowledge) DeleteBase(ctx context.Context) error {
	if k.kb.DatasetID == "" {
		return nil
	}
	call, err := k.client.Send(ctx, executor.Request{
		Name:   "/datasets/delete",
		Method: http.MethodDelete,
		Path:   k.datasetPath(),
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode == http.StatusNoContent {
		k.kb.ClearAll()
	}
	return nil
}
