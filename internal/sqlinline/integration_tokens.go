package sqlinline

const QSelectIntegrationToken = `--sql 3f1c9a6e-52d8-4b0a-9e41-7c88aa20d514
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql b7e2d0c4-1a96-4d3f-8e75-0412c6f9ab38
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
