package ai

// ComparePrompt asks the model for a structured same/different/ambiguous
// verdict on one entity pair. The %s placeholder receives the pair block
// built from both entities, their context sentences, the co-occurrence
// count and the estimated name similarity.
// SummaryPrompt asks the model for a short reviewer-facing profile of one
// entity. The %s placeholder receives the entity block with its mention
// sentences.
const SummaryPrompt = `You are profiling a named entity from a news archive
for a human reviewer. Write two or three plain sentences describing who or
what the entity is, based only on the mention sentences given. Answer in
the language of the sentences. When the sentences are not enough to tell,
say so instead of inventing details.

%s`

const ComparePrompt = `You are resolving named-entity identities in a news archive.
You are given two entities extracted from news articles, each with the
sentences in which they were mentioned. Decide whether they refer to the
same real-world identity.

Rules:
- Two entities are the same identity when one name is a variant of the
  other: an acronym or initialism ("JCE" for "Junta Central Electoral"),
  a partial name ("Luis" for "Luis Abinader"), a spelling variant, or a
  name with and without titles or middle names.
- Entity types must be compatible. A person is never the same identity
  as an organization or a place, even when the names match.
- When the shorter name could plausibly refer to the longer one but the
  context does not confirm it, answer ambiguous instead of guessing.
- When the names merely look alike but the contexts describe different
  identities, they are different. Do not merge on similarity alone.

Answer with classification changes:
- Same identity: change the less complete entity to "alias" with
  canonical_id set to the more complete entity. Prefer the longer, more
  specific name as the canonical.
- Could refer to several identities: change the shorter entity to
  "ambiguous" with canonical_ids listing every plausible canonical.
- Different identities: return no changes.

Report your confidence between 0 and 1. Use the mention contexts, the
number of articles mentioning both, and the name similarity as evidence.
Keep the reasoning to one or two sentences.

%s`
